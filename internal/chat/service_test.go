package chat

import (
	"context"
	"errors"
	"testing"
)

func newTestService(repo Repository) Service {
	// nil redis client: presence mirror becomes a no-op
	return NewService(repo, NewPresenceCache(nil, 0))
}

func sendText(t *testing.T, svc Service, sender, room, text string) *Message {
	t.Helper()
	msg, err := svc.SendMessage(context.Background(), sender, &SendMessageRequest{Room: room, Text: text})
	if err != nil {
		t.Fatalf("SendMessage(%q): %v", text, err)
	}
	return msg
}

func TestSendMessage_RejectsEmptyBeforeStore(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	_, err := svc.SendMessage(context.Background(), "alice", &SendMessageRequest{Room: "dm:alice:bob"})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(repo.messages) != 0 {
		t.Fatalf("rejected message must never reach the store, found %d", len(repo.messages))
	}
}

func TestSendMessage_AttachmentOnlyIsValid(t *testing.T) {
	svc := newTestService(newFakeRepository())

	msg, err := svc.SendMessage(context.Background(), "alice", &SendMessageRequest{
		Room:    "dm:alice:bob",
		FileURL: "https://cdn.example.com/photo.jpg",
	})
	if err != nil {
		t.Fatalf("attachment-only send should be valid: %v", err)
	}
	if msg.Text != nil || msg.FileURL == nil {
		t.Fatalf("expected file-only message, got text=%v file=%v", msg.Text, msg.FileURL)
	}
}

func TestSendMessage_UnreadCounters(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()
	room := DirectRoomID("alice", "bob")

	for _, text := range []string{"hey", "you there?", "ping"} {
		sendText(t, svc, "alice", room, text)
	}

	bobConvs, err := svc.ListConversations(ctx, "bob", 20, 0)
	if err != nil {
		t.Fatalf("ListConversations(bob): %v", err)
	}
	if len(bobConvs) != 1 || bobConvs[0].UnreadCount != 3 {
		t.Fatalf("bob should see one conversation with 3 unread, got %+v", bobConvs)
	}

	aliceConvs, err := svc.ListConversations(ctx, "alice", 20, 0)
	if err != nil {
		t.Fatalf("ListConversations(alice): %v", err)
	}
	if len(aliceConvs) != 1 || aliceConvs[0].UnreadCount != 0 {
		t.Fatalf("sender's own unread must stay 0, got %+v", aliceConvs)
	}

	changed, err := svc.MarkConversationRead(ctx, bobConvs[0].ID, "bob")
	if err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	if len(changed) != 3 {
		t.Fatalf("expected 3 receipt changes, got %d", len(changed))
	}

	bobConvs, _ = svc.ListConversations(ctx, "bob", 20, 0)
	if bobConvs[0].UnreadCount != 0 {
		t.Fatalf("unread should be 0 after read, got %d", bobConvs[0].UnreadCount)
	}

	// reading again changes nothing
	changed, err = svc.MarkConversationRead(ctx, bobConvs[0].ID, "bob")
	if err != nil {
		t.Fatalf("second MarkConversationRead: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("re-reading a read conversation must change nothing, got %d", len(changed))
	}
}

func TestReceipts_Idempotent(t *testing.T) {
	svc := newTestService(newFakeRepository())
	ctx := context.Background()
	msg := sendText(t, svc, "alice", DirectRoomID("alice", "bob"), "hi")

	for i := 0; i < 3; i++ {
		updated, err := svc.MarkRead(ctx, msg.ID, "bob")
		if err != nil {
			t.Fatalf("MarkRead attempt %d: %v", i+1, err)
		}
		if len(updated.ReadBy) != 1 || updated.ReadBy[0] != "bob" {
			t.Fatalf("read set should be exactly {bob}, got %v", updated.ReadBy)
		}
		// read implies delivered
		if len(updated.DeliveredTo) != 1 || updated.DeliveredTo[0] != "bob" {
			t.Fatalf("delivered set should be exactly {bob}, got %v", updated.DeliveredTo)
		}
	}
}

func TestReceipts_SenderSelfAckIgnored(t *testing.T) {
	svc := newTestService(newFakeRepository())
	ctx := context.Background()
	msg := sendText(t, svc, "alice", DirectRoomID("alice", "bob"), "hi")

	updated, err := svc.MarkDelivered(ctx, msg.ID, "alice")
	if err != nil {
		t.Fatalf("self-ack should not error: %v", err)
	}
	if len(updated.DeliveredTo) != 0 {
		t.Fatalf("sender's own ack must not record a receipt, got %v", updated.DeliveredTo)
	}
}

func TestToggleReaction_DoubleToggleRestoresSet(t *testing.T) {
	svc := newTestService(newFakeRepository())
	ctx := context.Background()
	msg := sendText(t, svc, "alice", "event-42", "hi")

	// bob already reacted with a different emoji
	if _, err := svc.ToggleReaction(ctx, "bob", &ReactionRequest{Room: msg.Room, MessageID: msg.ID, Emoji: "👍"}); err != nil {
		t.Fatalf("first reaction: %v", err)
	}

	added, err := svc.ToggleReaction(ctx, "bob", &ReactionRequest{Room: msg.Room, MessageID: msg.ID, Emoji: "❤️"})
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !added.HasReaction("bob", "❤️") {
		t.Fatalf("reaction should be present after first toggle")
	}

	removed, err := svc.ToggleReaction(ctx, "bob", &ReactionRequest{Room: msg.Room, MessageID: msg.ID, Emoji: "❤️"})
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if removed.HasReaction("bob", "❤️") {
		t.Fatalf("double toggle must remove the reaction")
	}
	if !removed.HasReaction("bob", "👍") {
		t.Fatalf("unrelated reaction must survive the toggle, got %v", removed.Reactions)
	}
}

func TestEditMessage_SenderOnly(t *testing.T) {
	svc := newTestService(newFakeRepository())
	ctx := context.Background()
	msg := sendText(t, svc, "alice", "event-42", "helo")

	if _, err := svc.EditMessage(ctx, "bob", &EditMessageRequest{MessageID: msg.ID, Text: "hacked"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-sender edit should be ErrUnauthorized, got %v", err)
	}

	edited, err := svc.EditMessage(ctx, "alice", &EditMessageRequest{MessageID: msg.ID, Text: "hello"})
	if err != nil {
		t.Fatalf("sender edit: %v", err)
	}
	if edited.Text == nil || *edited.Text != "hello" || !edited.IsEdited || edited.EditedAt == nil {
		t.Fatalf("edit not applied: %+v", edited)
	}
}

func TestForceDeleteMessage_SenderOnly(t *testing.T) {
	svc := newTestService(newFakeRepository())
	ctx := context.Background()
	msg := sendText(t, svc, "alice", "event-42", "oops")

	if _, err := svc.ForceDeleteMessage(ctx, msg.ID, "bob"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-sender delete should be ErrUnauthorized, got %v", err)
	}

	deleted, err := svc.ForceDeleteMessage(ctx, msg.ID, "alice")
	if err != nil {
		t.Fatalf("sender delete: %v", err)
	}
	if deleted.Room != "event-42" {
		t.Fatalf("deleted message should carry its room for fan-out, got %q", deleted.Room)
	}
	if _, err := svc.GetMessage(ctx, msg.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("message should be gone, got %v", err)
	}
}

func TestHideMessage_MissingIsNoop(t *testing.T) {
	svc := newTestService(newFakeRepository())

	if err := svc.HideMessage(context.Background(), "does-not-exist", "alice"); err != nil {
		t.Fatalf("hiding a missing message should be a no-op, got %v", err)
	}
}

func TestHideMessage_FiltersHistoryPerUser(t *testing.T) {
	svc := newTestService(newFakeRepository())
	ctx := context.Background()
	room := DirectRoomID("alice", "bob")

	kept := sendText(t, svc, "alice", room, "keep this")
	hidden := sendText(t, svc, "alice", room, "hide this")

	if err := svc.HideMessage(ctx, hidden.ID, "bob"); err != nil {
		t.Fatalf("HideMessage: %v", err)
	}

	bobView, err := svc.GetRoomMessages(ctx, room, "bob", 20, 0)
	if err != nil {
		t.Fatalf("GetRoomMessages(bob): %v", err)
	}
	if len(bobView) != 1 || bobView[0].ID != kept.ID {
		t.Fatalf("bob should see only the kept message, got %d messages", len(bobView))
	}

	aliceView, err := svc.GetRoomMessages(ctx, room, "alice", 20, 0)
	if err != nil {
		t.Fatalf("GetRoomMessages(alice): %v", err)
	}
	if len(aliceView) != 2 {
		t.Fatalf("hide is per-user, alice should still see both, got %d", len(aliceView))
	}
}

func TestGetOrCreateConversation_Validation(t *testing.T) {
	svc := newTestService(newFakeRepository())
	ctx := context.Background()

	if _, err := svc.GetOrCreateConversation(ctx, "alice", "alice"); err == nil {
		t.Fatalf("self-conversation must be rejected")
	}
	if _, err := svc.GetOrCreateConversation(ctx, "alice", ""); err == nil {
		t.Fatalf("empty partner must be rejected")
	}

	first, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}
	second, err := svc.GetOrCreateConversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("reversed pair: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("pair order must not matter: %s vs %s", first.ID, second.ID)
	}
	if first.Room != DirectRoomID("alice", "bob") {
		t.Fatalf("unexpected room id %q", first.Room)
	}
}

func TestConversation_ParticipantGuards(t *testing.T) {
	svc := newTestService(newFakeRepository())
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}

	if _, err := svc.MarkConversationRead(ctx, conv.ID, "mallory"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider read should be ErrNotParticipant, got %v", err)
	}
	if err := svc.DeleteConversation(ctx, conv.ID, "mallory"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider delete should be ErrNotParticipant, got %v", err)
	}
}

func TestDeleteConversation_RemovesMessages(t *testing.T) {
	svc := newTestService(newFakeRepository())
	ctx := context.Background()
	room := DirectRoomID("alice", "bob")

	sendText(t, svc, "alice", room, "one")
	sendText(t, svc, "bob", room, "two")

	convs, _ := svc.ListConversations(ctx, "alice", 20, 0)
	if len(convs) != 1 {
		t.Fatalf("expected one conversation, got %d", len(convs))
	}

	if err := svc.DeleteConversation(ctx, convs[0].ID, "alice"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	msgs, err := svc.GetRoomMessages(ctx, room, "bob", 20, 0)
	if err != nil {
		t.Fatalf("GetRoomMessages after delete: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages should be gone with the conversation, got %d", len(msgs))
	}
}

func TestSendMessage_UpdatesConversationSnapshot(t *testing.T) {
	svc := newTestService(newFakeRepository())
	ctx := context.Background()
	room := DirectRoomID("alice", "bob")

	sendText(t, svc, "alice", room, "first")
	sendText(t, svc, "bob", room, "latest")

	convs, err := svc.ListConversations(ctx, "alice", 20, 0)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	conv := convs[0]
	if conv.LastMessageText == nil || *conv.LastMessageText != "latest" {
		t.Fatalf("snapshot should hold the latest message, got %v", conv.LastMessageText)
	}
	if conv.LastMessageSender == nil || *conv.LastMessageSender != "bob" {
		t.Fatalf("snapshot sender should be bob, got %v", conv.LastMessageSender)
	}
}
