// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package translator

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// FeedbackTokenGenerator mints the per-choice feedback tokens attached to
// responses. A token binds an agent and run id with an HMAC so feedback can
// be posted without authenticating as the original caller.
type FeedbackTokenGenerator struct {
	secret []byte
}

func NewFeedbackTokenGenerator(secret []byte) *FeedbackTokenGenerator {
	return &FeedbackTokenGenerator{secret: secret}
}

func (g *FeedbackTokenGenerator) sign(payload string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Token builds the feedback token for a run.
func (g *FeedbackTokenGenerator) Token(agentUID int, runID string) string {
	payload := fmt.Sprintf("%d:%s", agentUID, runID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + g.sign(payload)
}

// Verify checks a token's signature and returns the run id it covers.
func (g *FeedbackTokenGenerator) Verify(token string) (string, bool) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", false
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(g.sign(string(payload)))) {
		return "", false
	}
	_, runID, ok := strings.Cut(string(payload), ":")
	if !ok {
		return "", false
	}
	return runID, true
}
