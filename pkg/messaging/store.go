// vantage-messenger - A CRM dashboard real-time messaging client.
// Copyright (C) 2026 Vantage CRM
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ReplyUnavailable is what the read model returns for a reply whose target
// was deleted locally. The reply keeps its replyToId; rendering must not
// break on the dangling reference.
const ReplyUnavailable = "message unavailable"

// fallbackKey dedups server-originated echoes that never carried a localId.
// Timestamps are compared at millisecond precision, matching the wire format.
type fallbackKey struct {
	senderID       string
	conversationID string
	createdAtMs    int64
	text           string
}

func messageFallbackKey(m *Message) fallbackKey {
	return fallbackKey{
		senderID:       m.SenderID,
		conversationID: m.ConversationID,
		createdAtMs:    m.CreatedAt.UnixMilli(),
		text:           m.Text,
	}
}

// Store is the single source of truth for every conversation's message log
// and message-level interaction state (reactions, pin, star, edit, delete).
//
// Messages reach the store from three uncoordinated sources: the composer's
// optimistic append, push-delivered frames, and REST history fetches. The
// store converges them into one totally ordered log per conversation:
// ordered by CreatedAt, ties broken by insertion order.
type Store struct {
	mu  sync.RWMutex
	log zerolog.Logger

	logs    map[string][]*Message // conversation id → ordered log
	byLocal map[string]*Message   // localId → live entry
	byID    map[string]*Message   // server id → live entry

	// reconciled marks localIds whose pending entry has already been merged
	// with a confirmation. The push echo and the REST response race for the
	// same pending message; the first to arrive wins, the second is a no-op.
	reconciled map[string]bool

	// seenEcho dedups confirmed messages by identity: server id, plus the
	// (sender, conversation, createdAt, text) fallback for echoes that never
	// carried a localId.
	seenEcho map[fallbackKey]bool

	// deletedIDs suppresses re-delivery of locally deleted messages. A push
	// replay or a history re-fetch must not resurrect them.
	deletedIDs map[string]bool

	pinned  map[string]string // conversation id → pinned message ref
	starred map[string]bool   // message ref → starred (session-only)

	// reactionSink broadcasts local reactions over the push channel so the
	// counterpart's store converges. Best-effort; may be nil.
	reactionSink func(conversationID, messageID, emoji string)
}

// NewStore creates an empty message store.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		log:        log.With().Str("component", "message_store").Logger(),
		logs:       make(map[string][]*Message),
		byLocal:    make(map[string]*Message),
		byID:       make(map[string]*Message),
		reconciled: make(map[string]bool),
		seenEcho:   make(map[fallbackKey]bool),
		deletedIDs: make(map[string]bool),
		pinned:     make(map[string]string),
		starred:    make(map[string]bool),
	}
}

// SetReactionSink registers the best-effort broadcast hook used by React.
func (s *Store) SetReactionSink(sink func(conversationID, messageID, emoji string)) {
	s.mu.Lock()
	s.reactionSink = sink
	s.mu.Unlock()
}

// ============================================================================
// Ordered insertion & reconciliation
// ============================================================================

// insertLocked places a message at its ordered position. sort.Search finds
// the first strictly-later entry, so equal timestamps keep insertion order.
func (s *Store) insertLocked(m *Message) {
	entries := s.logs[m.ConversationID]
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].CreatedAt.After(m.CreatedAt)
	})
	entries = append(entries, nil)
	copy(entries[i+1:], entries[i:])
	entries[i] = m
	s.logs[m.ConversationID] = entries
	s.indexLocked(m)
}

func (s *Store) indexLocked(m *Message) {
	if m.LocalID != "" {
		s.byLocal[m.LocalID] = m
	}
	if m.ID != "" {
		s.byID[m.ID] = m
		s.seenEcho[messageFallbackKey(m)] = true
	}
}

// removeLocked takes a message out of its conversation log, leaving the
// echo-suppression bookkeeping intact.
func (s *Store) removeLocked(m *Message) {
	entries := s.logs[m.ConversationID]
	for i, e := range entries {
		if e == m {
			s.logs[m.ConversationID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if m.LocalID != "" {
		delete(s.byLocal, m.LocalID)
	}
	if m.ID != "" {
		delete(s.byID, m.ID)
	}
}

// repositionLocked re-inserts a message whose CreatedAt changed during a
// merge, preserving the ordering invariant.
func (s *Store) repositionLocked(m *Message) {
	entries := s.logs[m.ConversationID]
	for i, e := range entries {
		if e == m {
			s.logs[m.ConversationID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	entries = s.logs[m.ConversationID]
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].CreatedAt.After(m.CreatedAt)
	})
	entries = append(entries, nil)
	copy(entries[i+1:], entries[i:])
	entries[i] = m
	s.logs[m.ConversationID] = entries
}

// Append inserts a message preserving total order. If an entry with the same
// localId already exists it is replaced in place instead of duplicated.
func (s *Store) Append(conversationID string, m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ConversationID = conversationID
	if m.Reactions == nil {
		m.Reactions = make(map[string]int)
	}
	if m.LocalID != "" {
		if existing, ok := s.byLocal[m.LocalID]; ok {
			s.mergeLocked(existing, m)
			return
		}
	}
	s.insertLocked(m)
}

// mergeLocked folds a confirmed copy into the live entry for the same
// logical message. The confirmed copy is authoritative for id, delivery
// state, server timestamp, and attachment URLs.
func (s *Store) mergeLocked(existing, confirmed *Message) {
	if confirmed.ID != "" {
		existing.ID = confirmed.ID
	}
	if confirmed.Delivery != "" {
		existing.Delivery = promotedDelivery(existing.Delivery, confirmed.Delivery)
	} else if existing.Delivery == DeliveryPending || existing.Delivery == DeliveryFailed {
		existing.Delivery = DeliverySent
	}
	if len(confirmed.Attachments) > 0 {
		existing.Attachments = confirmed.Attachments
	}
	if !confirmed.CreatedAt.IsZero() && !confirmed.CreatedAt.Equal(existing.CreatedAt) {
		existing.CreatedAt = confirmed.CreatedAt
		s.repositionLocked(existing)
	}
	s.indexLocked(existing)
}

// Reconcile merges a confirmation (push echo or REST response) into the
// pending message with the given localId. The first confirmation to arrive
// performs the merge; the second is a duplicate-suppressed no-op. Returns
// whether this call applied anything.
func (s *Store) Reconcile(conversationID, localID string, confirmed *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconciled[localID] {
		s.log.Debug().Str("local_id", localID).Msg("Duplicate confirmation suppressed")
		return false
	}
	s.reconciled[localID] = true
	existing, ok := s.byLocal[localID]
	if !ok {
		// The pending entry is gone (deleted mid-flight, or the send was
		// issued before this store was seeded). Record the echo identity so
		// later copies stay suppressed, and insert if not locally deleted.
		if confirmed.ID != "" && s.deletedIDs[confirmed.ID] {
			return false
		}
		confirmed.ConversationID = conversationID
		confirmed.LocalID = localID
		if confirmed.Reactions == nil {
			confirmed.Reactions = make(map[string]int)
		}
		s.insertLocked(confirmed)
		return true
	}
	s.mergeLocked(existing, confirmed)
	return true
}

// ApplyRemote routes one push-delivered or history-fetched message into the
// log. Returns true when a new entry was appended (as opposed to a merge,
// delivery upgrade, or suppressed duplicate).
func (s *Store) ApplyRemote(m *Message) bool {
	if m.ID != "" {
		s.mu.Lock()
		if s.deletedIDs[m.ID] {
			s.mu.Unlock()
			return false
		}
		if existing, ok := s.byID[m.ID]; ok {
			// Known message: this copy can only upgrade delivery state or
			// carry an edit, never duplicate the entry.
			existing.Delivery = promotedDelivery(existing.Delivery, m.Delivery)
			if m.Edited && !existing.Edited {
				existing.Edited = true
				existing.Text = m.Text
			}
			s.mu.Unlock()
			return false
		}
		s.mu.Unlock()
	}

	if m.LocalID != "" {
		s.mu.RLock()
		_, pendingKnown := s.byLocal[m.LocalID]
		alreadyDone := s.reconciled[m.LocalID]
		s.mu.RUnlock()
		if pendingKnown || alreadyDone {
			return s.Reconcile(m.ConversationID, m.LocalID, m)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID != "" && s.seenEcho[messageFallbackKey(m)] {
		return false
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string]int)
	}
	s.insertLocked(m)
	return true
}

// Seed unions a history fetch result into the conversation log. Re-fetches
// may include messages the first fetch lacked; overlapping messages are not
// duplicated and the existing log is never replaced wholesale.
func (s *Store) Seed(conversationID string, msgs []*Message) int {
	added := 0
	for _, m := range msgs {
		m.ConversationID = conversationID
		if s.ApplyRemote(m) {
			added++
		}
	}
	return added
}

// ============================================================================
// Interaction state
// ============================================================================

// lookupLocked resolves either identifier shape: server id first, then
// localId for still-pending messages.
func (s *Store) lookupLocked(messageID string) (*Message, bool) {
	if m, ok := s.byID[messageID]; ok {
		return m, true
	}
	m, ok := s.byLocal[messageID]
	return m, ok
}

// React increments the aggregate counter for emoji and broadcasts the
// reaction best-effort. Reactions are increment-only: reacting twice counts
// twice, and concurrent identical reactions from both sides may double
// count. That is the accepted approximation, not a defect to repair here.
func (s *Store) React(messageID, emoji string) bool {
	s.mu.Lock()
	m, ok := s.lookupLocked(messageID)
	if !ok {
		s.mu.Unlock()
		return false
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string]int)
	}
	m.Reactions[emoji]++
	sink := s.reactionSink
	conversationID := m.ConversationID
	ref := m.RefID()
	s.mu.Unlock()

	if sink != nil {
		sink(conversationID, ref, emoji)
	}
	return true
}

// ApplyReaction folds a counterpart's reaction (delivered over the push
// channel) into the aggregate counters.
func (s *Store) ApplyReaction(messageID, emoji string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.lookupLocked(messageID)
	if !ok {
		return false
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string]int)
	}
	m.Reactions[emoji]++
	return true
}

// Delete removes a message locally. The id stays tombstoned so push replays
// and history re-fetches can't resurrect it. Deleting a still-pending
// message marks its localId reconciled, so the in-flight confirmation is
// suppressed instead of re-inserting the message.
func (s *Store) Delete(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.lookupLocked(messageID)
	if !ok {
		return false
	}
	if m.ID != "" {
		s.deletedIDs[m.ID] = true
	}
	if m.LocalID != "" {
		s.reconciled[m.LocalID] = true
	}
	if s.pinned[m.ConversationID] == m.RefID() {
		delete(s.pinned, m.ConversationID)
	}
	delete(s.starred, m.RefID())
	s.removeLocked(m)
	return true
}

// Pin sets the single pinned message for its conversation, replacing any
// previous pin.
func (s *Store) Pin(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.lookupLocked(messageID)
	if !ok {
		return false
	}
	s.pinned[m.ConversationID] = m.RefID()
	return true
}

// Unpin clears a conversation's pinned message.
func (s *Store) Unpin(conversationID string) {
	s.mu.Lock()
	delete(s.pinned, conversationID)
	s.mu.Unlock()
}

// PinnedMessage returns the pinned message for a conversation, if any.
func (s *Store) PinnedMessage(conversationID string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.pinned[conversationID]
	if !ok {
		return nil, false
	}
	m, ok := s.lookupLocked(ref)
	if !ok {
		return nil, false
	}
	return m.clone(), true
}

// Star marks a message in the session-local starred set.
func (s *Store) Star(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.lookupLocked(messageID)
	if !ok {
		return false
	}
	s.starred[m.RefID()] = true
	return true
}

// IsStarred reports whether a message is in the starred set.
func (s *Store) IsStarred(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.lookupLocked(messageID)
	if !ok {
		return false
	}
	return s.starred[m.RefID()]
}

// Edit replaces a message's text and marks it edited. Local-only; edits do
// not propagate to the counterpart.
func (s *Store) Edit(messageID, newText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.lookupLocked(messageID)
	if !ok {
		return false
	}
	m.Text = newText
	m.Edited = true
	return true
}

// MarkFailed transitions a still-pending message to the failed state. Used
// when the persist call errors or times out.
func (s *Store) MarkFailed(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byLocal[localID]
	if !ok || s.reconciled[localID] {
		return false
	}
	if m.Delivery != DeliveryPending {
		return false
	}
	m.Delivery = DeliveryFailed
	return true
}

// MarkDelivery promotes a message's delivery state. Demotions are ignored:
// a late "delivered" receipt can't undo "read".
func (s *Store) MarkDelivery(messageID string, state DeliveryState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.lookupLocked(messageID)
	if !ok {
		return false
	}
	m.Delivery = promotedDelivery(m.Delivery, state)
	return true
}

var deliveryRank = map[DeliveryState]int{
	DeliveryFailed:    0,
	DeliveryPending:   1,
	DeliverySent:      2,
	DeliveryDelivered: 3,
	DeliveryRead:      4,
}

func promotedDelivery(current, next DeliveryState) DeliveryState {
	if next == "" {
		return current
	}
	if deliveryRank[next] > deliveryRank[current] {
		return next
	}
	return current
}

// ============================================================================
// Read model
// ============================================================================

// Messages returns a snapshot of the conversation log in display order.
func (s *Store) Messages(conversationID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.logs[conversationID]
	out := make([]*Message, len(entries))
	for i, m := range entries {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of messages in a conversation.
func (s *Store) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[conversationID])
}

// LastMessage returns the newest message of a conversation, for directory
// previews.
func (s *Store) LastMessage(conversationID string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.logs[conversationID]
	if len(entries) == 0 {
		return nil, false
	}
	return entries[len(entries)-1].clone(), true
}

// Get returns a snapshot of one message by either identifier shape.
func (s *Store) Get(messageID string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.lookupLocked(messageID)
	if !ok {
		return nil, false
	}
	return m.clone(), true
}

// ReplyPreview resolves a replyToId for rendering. Deleted or unknown
// targets yield the ReplyUnavailable placeholder instead of breaking the
// reply thread.
func (s *Store) ReplyPreview(replyToID string) string {
	if replyToID == "" {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.lookupLocked(replyToID)
	if !ok {
		return ReplyUnavailable
	}
	return m.Text
}

// now is indirected for tests that need deterministic timestamps.
var now = time.Now
