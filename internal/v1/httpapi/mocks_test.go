package httpapi

import (
	"context"
	"sync"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/store"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// mockStore implements Store with canned results and records the arguments
// handlers pass down.
type mockStore struct {
	mu sync.Mutex

	rooms    []string
	roomsErr error

	ids      []string
	idsRoom  string
	idsSince *int64

	byIDs    []wire.ChatMessage
	byIDsGot []string

	pageMsgs   []wire.ChatMessage
	pageRoom   string
	pageLimit  int
	pageOffset int

	attName string
	attMime string
	attData []byte
	attErr  error

	savedRoom string
	saved     []wire.ChatMessage
	saveErr   error

	delMsgOK    bool
	delMsgErr   error
	delMsgID    string
	delMsgKey   string
	delMsgAdmin string

	infos []store.RoomInfo

	delRoomOK   bool
	delRoomName string

	recent      []store.AttachmentInfo
	recentLimit int

	testDataCalls int

	blockedKeys []string
	blockErr    error

	contentDeleted int
	contentKey     string
	contentErr     error

	attDeleted []int
	attDelOK   bool
}

func (m *mockStore) ListRooms(_ context.Context) ([]string, error) {
	return m.rooms, m.roomsErr
}

func (m *mockStore) GetMessageIdsForRoom(_ context.Context, roomKey string, sinceTs *int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idsRoom = roomKey
	m.idsSince = sinceTs
	return m.ids, nil
}

func (m *mockStore) GetMessagesByIds(_ context.Context, ids []string, roomKey string) ([]wire.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byIDsGot = ids
	m.idsRoom = roomKey
	return m.byIDs, nil
}

func (m *mockStore) GetMessagesForRoom(_ context.Context, roomName string, limit, offset int) ([]wire.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageRoom = roomName
	m.pageLimit = limit
	m.pageOffset = offset
	return m.pageMsgs, nil
}

func (m *mockStore) GetAttachment(_ context.Context, _ int) (string, string, []byte, error) {
	return m.attName, m.attMime, m.attData, m.attErr
}

func (m *mockStore) SaveMessages(_ context.Context, roomName string, msgs []wire.ChatMessage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.savedRoom = roomName
	m.saved = append(m.saved, msgs...)
	return len(msgs), nil
}

func (m *mockStore) DeleteMessage(_ context.Context, id, requesterKey, adminKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delMsgID = id
	m.delMsgKey = requesterKey
	m.delMsgAdmin = adminKey
	return m.delMsgOK, m.delMsgErr
}

func (m *mockStore) GetRoomInfo(_ context.Context) ([]store.RoomInfo, error) {
	return m.infos, nil
}

func (m *mockStore) DeleteRoom(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delRoomName = name
	return m.delRoomOK, nil
}

func (m *mockStore) GetRecentAttachments(_ context.Context, limit int) ([]store.AttachmentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentLimit = limit
	return m.recent, nil
}

func (m *mockStore) CreateTestData(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testDataCalls++
	return nil
}

func (m *mockStore) BlockUser(_ context.Context, publicKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockErr != nil {
		return m.blockErr
	}
	m.blockedKeys = append(m.blockedKeys, publicKey)
	return nil
}

func (m *mockStore) DeleteUserContent(_ context.Context, publicKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contentKey = publicKey
	if m.contentErr != nil {
		return 0, m.contentErr
	}
	return m.contentDeleted, nil
}

func (m *mockStore) DeleteAttachment(_ context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attDeleted = append(m.attDeleted, id)
	return m.attDelOK, nil
}

// mockNotifier records delete-msg fan-out requests.
type mockNotifier struct {
	mu    sync.Mutex
	calls []deleteMsgCall
}

type deleteMsgCall struct {
	room, messageID, requesterKey string
}

func (m *mockNotifier) SendDeleteMsg(room, messageID, requesterKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, deleteMsgCall{room, messageID, requesterKey})
}

// mockBus counts block invalidation announcements.
type mockBus struct {
	mu            sync.Mutex
	invalidations int
}

func (m *mockBus) PublishBlockInvalidation(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations++
	return nil
}
