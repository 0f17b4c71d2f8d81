package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ctrlcxy/smart-draw/internal/domain"
)

type mockConvRepo struct {
	created   []domain.Conversation
	createErr error
	listData  []domain.Conversation
	listErr   error
	deleted   []string
	deleteErr error
	cleared   bool
}

func (m *mockConvRepo) CreateIfMissing(_ context.Context, conv domain.Conversation) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, conv)
	return nil
}

func (m *mockConvRepo) List(_ context.Context) ([]domain.Conversation, error) {
	return m.listData, m.listErr
}

func (m *mockConvRepo) DeleteCascade(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockConvRepo) ClearAll(_ context.Context) error {
	m.cleared = true
	return nil
}

type mockMsgRepo struct {
	created  []domain.Message
	pairs    [][2]domain.Message
	pairErr  error
	listData map[string][]domain.Message
	listErr  error
}

func (m *mockMsgRepo) Create(_ context.Context, msg domain.Message) error {
	m.created = append(m.created, msg)
	return nil
}

func (m *mockMsgRepo) CreatePair(_ context.Context, user, assistant domain.Message) error {
	if m.pairErr != nil {
		return m.pairErr
	}
	m.pairs = append(m.pairs, [2]domain.Message{user, assistant})
	return nil
}

func (m *mockMsgRepo) ListByConversationID(_ context.Context, id string) ([]domain.Message, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listData[id], nil
}

type mockBlobRepo struct {
	stored    map[string]domain.BlobRecord
	failNames map[string]bool
	getErrIDs map[string]bool
}

func newMockBlobRepo() *mockBlobRepo {
	return &mockBlobRepo{stored: make(map[string]domain.BlobRecord)}
}

func (m *mockBlobRepo) Put(_ context.Context, rec domain.BlobRecord) error {
	if m.failNames[rec.Name] {
		return errors.New("blob store full")
	}
	m.stored[rec.ID] = rec
	return nil
}

func (m *mockBlobRepo) Get(_ context.Context, id string) (*domain.BlobRecord, error) {
	if m.getErrIDs[id] {
		return nil, errors.New("blob read failed")
	}
	rec, ok := m.stored[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func newHistoryFixture() (*HistoryService, *mockConvRepo, *mockMsgRepo, *mockBlobRepo) {
	convs := &mockConvRepo{}
	msgs := &mockMsgRepo{listData: make(map[string][]domain.Message)}
	blobs := newMockBlobRepo()
	svc := NewHistoryService(zap.NewNop(), convs, msgs, blobs)
	svc.now = func() int64 { return 1000 }
	return svc, convs, msgs, blobs
}

func TestAddHistory_CreatesConversationAndOrderedPair(t *testing.T) {
	svc, convs, msgs, _ := newHistoryFixture()

	longInput := strings.Repeat("x", 40)
	res, err := svc.AddHistory(context.Background(), domain.Turn{
		UserInput:    longInput,
		GeneratedXML: "<mxfile/>",
		ChartType:    "flowchart",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.ConversationID == "" || res.UserMessageID == "" || res.AssistantMessageID == "" {
		t.Fatalf("expected generated ids, got %+v", res)
	}

	if len(convs.created) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs.created))
	}
	if got := convs.created[0].Title; len([]rune(got)) != 30 {
		t.Fatalf("expected 30-rune title, got %q", got)
	}

	if len(msgs.pairs) != 1 {
		t.Fatalf("expected 1 turn pair, got %d", len(msgs.pairs))
	}
	user, assistant := msgs.pairs[0][0], msgs.pairs[0][1]
	if user.Role != domain.RoleUser || user.Type != domain.MessageTypeText {
		t.Fatalf("unexpected user message: %+v", user)
	}
	if assistant.Role != domain.RoleAssistant || assistant.Type != domain.MessageTypeXML || assistant.Content != "<mxfile/>" {
		t.Fatalf("unexpected assistant message: %+v", assistant)
	}
	if user.CreatedAt != 1000 || assistant.CreatedAt != 1001 {
		t.Fatalf("expected assistant stamped at user+1, got %d/%d", user.CreatedAt, assistant.CreatedAt)
	}
}

func TestAddHistory_PersistsAttachmentsInOrder(t *testing.T) {
	svc, _, msgs, blobs := newHistoryFixture()

	_, err := svc.AddHistory(context.Background(), domain.Turn{
		UserInput:    "with attachments",
		GeneratedXML: "<mxfile/>",
		Images: []domain.AttachmentInput{
			{Data: []byte("img1"), Name: "a.png", Type: "image/png"},
			{Data: []byte("img2"), Name: "b.png", Type: "image/png"},
		},
		Files: []domain.AttachmentInput{
			{Data: []byte("file contents"), Name: "notes.txt", Type: "text/plain"},
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	refs := msgs.pairs[0][0].Attachments
	if len(refs) != 3 {
		t.Fatalf("expected 3 attachment refs, got %d", len(refs))
	}
	wantKinds := []string{domain.AttachmentKindImage, domain.AttachmentKindImage, domain.AttachmentKindFile}
	for i, ref := range refs {
		if ref.Kind != wantKinds[i] {
			t.Fatalf("ref %d: expected kind %q, got %q", i, wantKinds[i], ref.Kind)
		}
		if _, ok := blobs.stored[ref.BlobID]; !ok {
			t.Fatalf("ref %d: blobId %q does not resolve", i, ref.BlobID)
		}
	}
	if refs[2].Size != int64(len("file contents")) {
		t.Fatalf("expected size fallback to payload length, got %d", refs[2].Size)
	}

	if atts := msgs.pairs[0][1].Attachments; len(atts) != 0 {
		t.Fatalf("assistant message must carry no attachments, got %d", len(atts))
	}
}

func TestAddHistory_DroppedAttachmentDoesNotAbortTurn(t *testing.T) {
	svc, _, msgs, blobs := newHistoryFixture()
	blobs.failNames = map[string]bool{"b.png": true}

	_, err := svc.AddHistory(context.Background(), domain.Turn{
		UserInput:    "partial persistence",
		GeneratedXML: "<mxfile/>",
		Images: []domain.AttachmentInput{
			{Data: []byte("img1"), Name: "a.png", Type: "image/png"},
			{Data: []byte("img2"), Name: "b.png", Type: "image/png"},
			{Data: []byte("img3"), Name: "c.png", Type: "image/png"},
		},
	})
	if err != nil {
		t.Fatalf("a failed attachment must not abort the turn, got %v", err)
	}

	if len(msgs.pairs) != 1 {
		t.Fatalf("expected the pair stored, got %d", len(msgs.pairs))
	}
	refs := msgs.pairs[0][0].Attachments
	if len(refs) != 2 {
		t.Fatalf("expected 2 surviving refs, got %d", len(refs))
	}
	if refs[0].Name != "a.png" || refs[1].Name != "c.png" {
		t.Fatalf("unexpected surviving refs: %+v", refs)
	}
}

func TestAddHistory_ReusesProvidedConversationID(t *testing.T) {
	svc, convs, _, _ := newHistoryFixture()

	res, err := svc.AddHistory(context.Background(), domain.Turn{
		ConversationID: "conv-1",
		UserInput:      "follow-up",
		GeneratedXML:   "<mxfile/>",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.ConversationID != "conv-1" {
		t.Fatalf("expected conversation id preserved, got %q", res.ConversationID)
	}
	if convs.created[0].ID != "conv-1" {
		t.Fatalf("expected create-if-missing with same id, got %q", convs.created[0].ID)
	}
}

func TestAddHistory_EmptyTurnRejected(t *testing.T) {
	svc, _, _, _ := newHistoryFixture()
	_, err := svc.AddHistory(context.Background(), domain.Turn{UserInput: "   "})
	if !errors.Is(err, ErrHistoryInvalidTurn) {
		t.Fatalf("expected ErrHistoryInvalidTurn, got %v", err)
	}
}

func TestGetHistories_BuildsPreviews(t *testing.T) {
	svc, convs, msgs, _ := newHistoryFixture()
	convs.listData = []domain.Conversation{{ID: "c1", ChartType: "flowchart", UpdatedAt: 2000}}
	msgs.listData["c1"] = []domain.Message{
		{Role: domain.RoleUser, Content: "first", Type: domain.MessageTypeText, CreatedAt: 1},
		{Role: domain.RoleAssistant, Content: "<old/>", Type: domain.MessageTypeXML, CreatedAt: 2},
		{Role: domain.RoleUser, Content: " latest ", Type: domain.MessageTypeText, CreatedAt: 3},
		{Role: domain.RoleAssistant, Content: "<mxfile/>", Type: domain.MessageTypeXML, CreatedAt: 4},
	}

	previews, err := svc.GetHistories(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(previews) != 1 {
		t.Fatalf("expected 1 preview, got %d", len(previews))
	}
	p := previews[0]
	if p.UserInput != "latest" || p.GeneratedXML != "<mxfile/>" {
		t.Fatalf("unexpected preview: %+v", p)
	}
	if p.Timestamp != 2000 {
		t.Fatalf("expected updatedAt timestamp, got %d", p.Timestamp)
	}
}

func TestGetHistories_SynthesizesImagePreview(t *testing.T) {
	svc, convs, msgs, _ := newHistoryFixture()
	convs.listData = []domain.Conversation{{ID: "c1"}}

	var atts []domain.AttachmentRef
	for i := 1; i <= 5; i++ {
		atts = append(atts, domain.AttachmentRef{
			BlobID: fmt.Sprintf("b%d", i),
			Name:   fmt.Sprintf("img%d.png", i),
			Kind:   domain.AttachmentKindImage,
		})
	}
	msgs.listData["c1"] = []domain.Message{
		{Role: domain.RoleUser, Content: "  ", Attachments: atts, CreatedAt: 1},
	}

	previews, err := svc.GetHistories(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := "from images: img1.png, img2.png, img3.png (+2 more)"
	if previews[0].UserInput != want {
		t.Fatalf("got %q, want %q", previews[0].UserInput, want)
	}
}

func TestDeleteHistory_Cascades(t *testing.T) {
	svc, convs, _, _ := newHistoryFixture()

	if err := svc.DeleteHistory(context.Background(), "c1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(convs.deleted) != 1 || convs.deleted[0] != "c1" {
		t.Fatalf("expected cascade delete of c1, got %+v", convs.deleted)
	}

	if err := svc.DeleteHistory(context.Background(), "  "); !errors.Is(err, ErrHistoryInvalidTurn) {
		t.Fatalf("expected ErrHistoryInvalidTurn for blank id, got %v", err)
	}
}

func TestHistoryService_NotConfigured(t *testing.T) {
	var svc *HistoryService
	if _, err := svc.AddHistory(context.Background(), domain.Turn{}); !errors.Is(err, ErrHistoryNotConfigured) {
		t.Fatalf("expected ErrHistoryNotConfigured, got %v", err)
	}
}
