package telephony

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"voice-relay/pkg/telemetry"
)

type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	Timeout    time.Duration
}

// TwilioClient implements Carrier over the 2010-04-01 REST API.
type TwilioClient struct {
	http    *resty.Client
	metrics *telemetry.Metrics
}

var _ Carrier = (*TwilioClient)(nil)

func NewTwilioClient(cfg TwilioConfig, m *telemetry.Metrics) *TwilioClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/2010-04-01/Accounts/"+cfg.AccountSID).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout).
		SetError(&APIError{})
	return &TwilioClient{http: h, metrics: m}
}

func (c *TwilioClient) CreateCall(ctx context.Context, req CreateCallRequest) (Call, error) {
	defer c.metrics.TrackUpstream("carrier", "create_call")()

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	if req.TwiML != "" {
		form.Set("Twiml", req.TwiML)
	} else {
		form.Set("Url", req.URL)
	}
	if req.StatusCallback != "" {
		form.Set("StatusCallback", req.StatusCallback)
		method := req.StatusCallbackMethod
		if method == "" {
			method = "POST"
		}
		form.Set("StatusCallbackMethod", method)
		for _, ev := range req.StatusCallbackEvents {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	var out Call
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		SetResult(&out).
		Post("/Calls.json")
	if err := c.check("create call", resp, err); err != nil {
		return Call{}, err
	}
	return out, nil
}

// UpdateCallTwiML replaces the TwiML of an in-progress call.
func (c *TwilioClient) UpdateCallTwiML(ctx context.Context, callSid, twiml string) (Call, error) {
	defer c.metrics.TrackUpstream("carrier", "update_call")()

	var out Call
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("callSid", callSid).
		SetFormData(map[string]string{"Twiml": twiml}).
		SetResult(&out).
		Post("/Calls/{callSid}.json")
	if err := c.check("update call", resp, err); err != nil {
		return Call{}, err
	}
	return out, nil
}

func (c *TwilioClient) FetchCall(ctx context.Context, callSid string) (Call, error) {
	defer c.metrics.TrackUpstream("carrier", "fetch_call")()

	var out Call
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("callSid", callSid).
		SetResult(&out).
		Get("/Calls/{callSid}.json")
	if err := c.check("fetch call", resp, err); err != nil {
		return Call{}, err
	}
	return out, nil
}

func (c *TwilioClient) SendSMS(ctx context.Context, req SMSRequest) (Message, error) {
	if req.To == "" || req.From == "" || req.Body == "" {
		return Message{}, fmt.Errorf("carrier send sms: to, from and body are required")
	}
	defer c.metrics.TrackUpstream("carrier", "send_sms")()

	var out Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"To": req.To, "From": req.From, "Body": req.Body}).
		SetResult(&out).
		Post("/Messages.json")
	if err := c.check("send sms", resp, err); err != nil {
		return Message{}, err
	}
	return out, nil
}

func (c *TwilioClient) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("carrier %s request failed: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}
	if apiErr, ok := resp.Error().(*APIError); ok && apiErr.Code != 0 {
		if apiErr.Status == 0 {
			apiErr.Status = resp.StatusCode()
		}
		return apiErr
	}
	return &APIError{Status: resp.StatusCode(), Message: resp.String()}
}
