package services

import (
	"fmt"
	"strconv"
)

// Wire types for the M-Pesa gateway (Daraja API).

// stringify renders a callback value. Numeric values (the gateway
// sends phone numbers and amounts as JSON numbers) must not come
// out in exponent notation.
func stringify(value interface{}) string {
	if f, ok := value.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", value)
}

// AccessTokenResponse is the OAuth token endpoint body
type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// StkPushRequest is the STK push (deposit) submission body
type StkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// StkPushResponse is the STK push submission response
type StkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// B2CRequest is the business-payment (withdrawal) submission body
type B2CRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   string `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion"`
}

// B2CResponse is the business-payment submission response
type B2CResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// StkCallback is the inbound STK push result webhook
type StkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string           `json:"MerchantRequestID"`
			CheckoutRequestID string           `json:"CheckoutRequestID"`
			ResultCode        int              `json:"ResultCode"`
			ResultDesc        string           `json:"ResultDesc"`
			CallbackMetadata  CallbackMetadata `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackMetadata is the named key/value list in an STK callback
type CallbackMetadata struct {
	Items []CallbackItem `json:"Item"`
}

// CallbackItem is one named value in the callback metadata
type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// itemValue finds a named value in the metadata list
func (m CallbackMetadata) itemValue(name string) string {
	for _, item := range m.Items {
		if item.Name == name && item.Value != nil {
			return stringify(item.Value)
		}
	}
	return ""
}

// Amount returns the paid amount from the callback
func (c *StkCallback) Amount() string {
	return c.Body.StkCallback.CallbackMetadata.itemValue("Amount")
}

// ReceiptNumber returns the gateway receipt from the callback
func (c *StkCallback) ReceiptNumber() string {
	return c.Body.StkCallback.CallbackMetadata.itemValue("MpesaReceiptNumber")
}

// TransactionDate returns the gateway timestamp from the callback
func (c *StkCallback) TransactionDate() string {
	return c.Body.StkCallback.CallbackMetadata.itemValue("TransactionDate")
}

// PhoneNumber returns the payer phone number from the callback
func (c *StkCallback) PhoneNumber() string {
	return c.Body.StkCallback.CallbackMetadata.itemValue("PhoneNumber")
}

// B2CCallback is the inbound business-payment result webhook
type B2CCallback struct {
	Result struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
		ResultParameters         struct {
			ResultParameter []ResultParameter `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

// ResultParameter is one keyed value in a B2C callback
type ResultParameter struct {
	Key   string      `json:"Key"`
	Value interface{} `json:"Value"`
}

// parameterValue finds a keyed value in the result parameter list
func (c *B2CCallback) parameterValue(key string) string {
	for _, param := range c.Result.ResultParameters.ResultParameter {
		if param.Key == key && param.Value != nil {
			return stringify(param.Value)
		}
	}
	return ""
}

// TransactionAmount returns the paid-out amount from the callback
func (c *B2CCallback) TransactionAmount() string {
	return c.parameterValue("TransactionAmount")
}

// TransactionReceipt returns the gateway receipt from the callback
func (c *B2CCallback) TransactionReceipt() string {
	return c.parameterValue("TransactionReceipt")
}

// TransactionCompletionDate returns the completion timestamp
func (c *B2CCallback) TransactionCompletionDate() string {
	return c.parameterValue("TransactionCompletionDate")
}

// RecipientPhoneNumber returns the payee phone number
func (c *B2CCallback) RecipientPhoneNumber() string {
	return c.parameterValue("RecipientPhoneNumber")
}
