package service

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// RoomChecker 檢查房間是否存在
type RoomChecker interface {
	Exists(ctx context.Context, id uint) (bool, error)
}

// Registry 維護即時的房間成員關係 (連線 <-> 房間, 多對多)
// 只存在記憶體中, 不是歷史資料的來源
type Registry struct {
	rooms          RoomChecker
	maxConnections int

	mu          sync.RWMutex
	members     map[uint]map[string]struct{} // roomID -> connID 集合
	memberships map[string]map[uint]struct{} // connID -> roomID 集合
}

func NewRegistry(rooms RoomChecker, maxConnections int) *Registry {
	return &Registry{
		rooms:          rooms,
		maxConnections: maxConnections,
		members:        make(map[uint]map[string]struct{}),
		memberships:    make(map[string]map[uint]struct{}),
	}
}

// Register 登記新連線 (沒有任何房間)
func (r *Registry) Register(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.memberships[connID]; ok {
		return nil
	}
	if r.maxConnections > 0 && len(r.memberships) >= r.maxConnections {
		return fmt.Errorf("%w: limit %d", ErrCapacityExceeded, r.maxConnections)
	}
	r.memberships[connID] = make(map[uint]struct{})
	return nil
}

// Join 冪等: 重複加入不會改變狀態
func (r *Registry) Join(ctx context.Context, connID string, roomID uint) error {
	if err := r.checkRoom(ctx, roomID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.memberships[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	rooms[roomID] = struct{}{}

	set, ok := r.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		r.members[roomID] = set
	}
	set[connID] = struct{}{}
	return nil
}

// Leave 冪等: 未加入的房間直接忽略
func (r *Registry) Leave(ctx context.Context, connID string, roomID uint) error {
	if err := r.checkRoom(ctx, roomID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(connID, roomID)
	return nil
}

// Members 回傳目前成員的快照 (已排序); 房間不存在或無人時為空
func (r *Registry) Members(roomID uint) []string {
	r.mu.RLock()
	ids := lo.Keys(r.members[roomID])
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// IsMember 連線是否在房間內
func (r *Registry) IsMember(connID string, roomID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[roomID][connID]
	return ok
}

// Rooms 連線目前加入的房間
func (r *Registry) Rooms(connID string) []uint {
	r.mu.RLock()
	ids := lo.Keys(r.memberships[connID])
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// RemoveConnection 將連線從所有房間移除並註銷, 回傳原本所在的房間
func (r *Registry) RemoveConnection(connID string) []uint {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := lo.Keys(r.memberships[connID])
	for _, roomID := range rooms {
		r.removeLocked(connID, roomID)
	}
	delete(r.memberships, connID)

	slices.Sort(rooms)
	return rooms
}

// ConnectionCount 已登記的連線數
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.memberships)
}

func (r *Registry) removeLocked(connID string, roomID uint) {
	if rooms, ok := r.memberships[connID]; ok {
		delete(rooms, roomID)
	}
	if set, ok := r.members[roomID]; ok {
		delete(set, connID)
		// 房間沒人時移除, 避免 map 無限成長
		if len(set) == 0 {
			delete(r.members, roomID)
		}
	}
}

func (r *Registry) checkRoom(ctx context.Context, roomID uint) error {
	ok, err := r.rooms.Exists(ctx, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownRoom, roomID)
	}
	return nil
}
