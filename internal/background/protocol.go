// Package background is the message hub between detectors and the services
// that own the session, quota and trust lists. Requests are action-keyed
// JSON objects; answers carry either data or an error with its code.
package background

import "encoding/json"

// Request actions
const (
	ActionAnalyzeText         = "analyzeText"
	ActionGetTranslations     = "getTranslations"
	ActionHealthCheck         = "healthCheck"
	ActionSignIn              = "signIn"
	ActionSignUp              = "signUp"
	ActionSignOut             = "signOut"
	ActionGetUser             = "getUser"
	ActionGetDailyUsage       = "getDailyUsage"
	ActionAddMoreAnalyses     = "addMoreAnalyses"
	ActionGetTrustedSenders   = "getTrustedSenders"
	ActionAddTrustedSender    = "addTrustedSender"
	ActionRemoveTrustedSender = "removeTrustedSender"
	ActionAddTrustedDomain    = "addTrustedDomain"
	ActionRemoveTrustedDomain = "removeTrustedDomain"
	ActionUpdateSettings      = "updateSettings"
)

// Notice actions pushed to detectors
const (
	NoticeSettingsUpdated       = "settingsUpdated"
	NoticeTrustedSendersUpdated = "trustedSendersUpdated"
)

// Request is one message sent to the background
type Request struct {
	Action string `json:"action"`
	// Origin identifies the sending client; its own notices are not echoed back
	Origin   string `json:"origin,omitempty"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Sender   string `json:"sender,omitempty"`
	Domain   string `json:"domain,omitempty"`
}

// Response answers a Request
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// Notice is pushed to every attached detector. Nil trust lists mean
// "unchanged".
type Notice struct {
	Action         string   `json:"action"`
	Language       string   `json:"language,omitempty"`
	TrustedSenders []string `json:"trustedSenders"`
	TrustedDomains []string `json:"trustedDomains"`
}
