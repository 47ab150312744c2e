package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl is the session directory. Its lock only guards the map;
// membership changes are serialized per room.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.SessionID]core.RoomService
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{rooms: make(map[domain.SessionID]core.RoomService)}
}

func (f *RoomManagerImpl) Get(session domain.SessionID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[session]
	return room, ok
}

func (f *RoomManagerImpl) GetOrCreate(session domain.SessionID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[session]
	f.mu.RUnlock()
	if ok && !room.Closed() {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[session]; ok && !room.Closed() {
		return room
	}
	room = core.NewRoomService(session)
	f.rooms[session] = room
	log.Info().Str("module", "app.rooms").Str("session", string(session)).Msg("session created")
	return room
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for session, r := range f.rooms {
		out = append(out, core.RoomInfo{Session: session, MemberCount: r.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

func (f *RoomManagerImpl) StopRoom(session domain.SessionID, room core.RoomService) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.rooms[session]; ok && cur == room {
		delete(f.rooms, session)
		log.Info().Str("module", "app.rooms").Str("session", string(session)).Msg("session discarded")
	}
}
