package sms

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Client sends text messages through the Twilio REST API.
type Client struct {
	rest       *twilio.RestClient
	fromNumber string
}

func NewClient(accountSID, authToken, fromNumber string) *Client {
	return &Client{
		rest: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		fromNumber: fromNumber,
	}
}

// Send delivers body to toNumber and returns the carrier message SID.
// toNumber must already be in E.164 form.
func (c *Client) Send(toNumber, body string) (string, error) {
	if !strings.HasPrefix(toNumber, "+") {
		return "", fmt.Errorf("invalid phone number: %s", toNumber)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(toNumber)
	params.SetFrom(c.fromNumber)
	params.SetBody(body)

	resp, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS to %s: %w", toNumber, err)
	}
	if resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}
