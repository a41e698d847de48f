// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/observability/logging"
)

const defaultExpiry = time.Hour

// Resolver assigns conversation and run ids to completions by matching
// message history hashes against short-lived store entries. Linking is best
// effort: storage failures degrade to a fresh conversation id instead of
// failing the run.
type Resolver struct {
	kv     KeyValueStore
	log    *logging.Logger
	expiry time.Duration
}

// NewResolver creates a resolver. A zero ttl keeps the one hour default.
func NewResolver(kv KeyValueStore, log *logging.Logger, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = defaultExpiry
	}
	return &Resolver{kv: kv, log: log, expiry: ttl}
}

func (r *Resolver) key(agentUID, schemaID int, suffix string) string {
	return fmt.Sprintf("%d:%d:conversation:%s", agentUID, schemaID, suffix)
}

func (r *Resolver) conversationIDKey(agentUID, schemaID int, hash string) string {
	return r.key(agentUID, schemaID, "conversation_id:"+hash)
}

func (r *Resolver) runIDKey(agentUID, schemaID int, hash string) string {
	return r.key(agentUID, schemaID, "run_id:"+hash)
}

// findConversationID scans the history backwards for an assistant message
// whose chain hash maps to a live conversation id. The key is popped; the
// final hash of this run re-points the conversation anyway.
func (r *Resolver) findConversationID(ctx context.Context, agentUID, schemaID int, messages []StoredMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		// Only an assistant turn can carry a conversation hash.
		if m.Role != domain.RoleAssistant {
			continue
		}
		id, err := r.kv.Pop(ctx, r.conversationIDKey(agentUID, schemaID, m.AggHash))
		if err != nil {
			r.log.Warn("conversation id lookup failed", "error", err)
			continue
		}
		if id != "" {
			return id
		}
	}
	return ""
}

// assignRunID attaches the producing run's id to an assistant message when
// its chain hash is still mapped, renewing the mapping's expiry.
func (r *Resolver) assignRunID(ctx context.Context, agentUID, schemaID int, m *StoredMessage) {
	if m.AggHash == "" || m.RunID != "" {
		return
	}
	key := r.runIDKey(agentUID, schemaID, m.AggHash)
	runID, err := r.kv.Get(ctx, key)
	if err != nil {
		r.log.Warn("run id lookup failed", "error", err)
		return
	}
	if runID == "" {
		return
	}
	if err := r.kv.Expire(ctx, key, r.expiry); err != nil {
		r.log.Warn("could not renew run id expiry", "error", err)
	}
	m.RunID = runID
}

// HandleRun links one finished run into its conversation. It hashes the
// input history plus the produced reply, resolves or mints the conversation
// id, attaches run ids to replayed assistant turns and stores the mappings
// for the follow-up request. The annotated history is returned for
// persistence.
func (r *Resolver) HandleRun(ctx context.Context, agentUID int, run *domain.Run, seed ChainSeed) []StoredMessage {
	stored, chain := ComputeChain(seed, run.Input)

	if run.ConversationID == "" {
		run.ConversationID = r.findConversationID(ctx, agentUID, run.SchemaID, stored)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range stored {
		if stored[i].Role != domain.RoleAssistant {
			continue
		}
		m := &stored[i]
		g.Go(func() error {
			r.assignRunID(gctx, agentUID, run.SchemaID, m)
			return nil
		})
	}
	_ = g.Wait()

	reply := replyMessage(run)
	finalHash := AggregateHashes(append(chain, MessageHash(reply)))

	if run.ConversationID == "" {
		run.ConversationID = mintConversationID()
	}

	if err := r.kv.Set(ctx, r.conversationIDKey(agentUID, run.SchemaID, finalHash), run.ConversationID, r.expiry); err != nil {
		r.log.Warn("could not store conversation id", "error", err)
	}
	if err := r.kv.Set(ctx, r.runIDKey(agentUID, run.SchemaID, finalHash), run.ID, r.expiry); err != nil {
		r.log.Warn("could not store run id", "error", err)
	}
	return stored
}

// replyMessage rebuilds the assistant turn this run produced, in the same
// shape a client would send it back.
func replyMessage(run *domain.Run) domain.Message {
	var content []domain.Content
	if run.Output != "" {
		content = append(content, domain.Text{Text: run.Output})
	}
	for _, tc := range run.ToolCallRequests {
		content = append(content, tc)
	}
	return domain.Message{Role: domain.RoleAssistant, Content: content}
}

func mintConversationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
