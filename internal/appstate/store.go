// Package appstate owns the client's domain data: the signed-in user, their
// spaces and each space's items, proposals, categories and rooms. Local
// mutations are persisted and broadcast to the space's realtime room;
// inbound state broadcasts replace the space's data wholesale.
package appstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nippledipple/gemeinsam-einrichten/internal/protocol"
	"github.com/nippledipple/gemeinsam-einrichten/internal/realtime"
	"github.com/nippledipple/gemeinsam-einrichten/internal/storage"
)

const (
	DefaultBroadcastDelay = 300 * time.Millisecond
	DefaultStorageKey     = "wohnideen_app_state"

	// MaxPriorityItems bounds the ranked priority list.
	MaxPriorityItems = 5

	persistTimeout = 5 * time.Second
)

var (
	ErrNoUser        = errors.New("appstate: not signed in")
	ErrNoSpace       = errors.New("appstate: no current space")
	ErrNotFound      = errors.New("appstate: not found")
	ErrInvalidInput  = errors.New("appstate: invalid input")
	ErrPriorityLimit = fmt.Errorf("appstate: at most %d priority items", MaxPriorityItems)
)

// Realtime is the part of realtime.Client the store drives.
type Realtime interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	JoinRoom(spaceID string, user protocol.User) error
	LeaveRoom(spaceID string) error
	BroadcastStateChange(spaceID string, state any) error
	SessionID() string
}

// EventSource is satisfied by realtime.Client.
type EventSource interface {
	On(t realtime.EventType, fn realtime.Listener) (unsubscribe func())
}

type Options struct {
	// KV is required.
	KV             storage.KV
	Key            string
	Realtime       Realtime
	BroadcastDelay time.Duration
	// OnChange is called after any change visible through State or Status.
	OnChange func()
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

// Status is the connectivity view of the store.
type Status struct {
	IsOnline            bool
	IsRealtimeConnected bool
	LastSyncTime        time.Time
	Presence            protocol.PresenceUpdate
}

type NewItem struct {
	Title        string
	Description  string
	URL          string
	ImageURL     string
	Price        float64
	Shop         string
	CategoryName string
	RoomID       string
	AsProposal   bool
}

type Store struct {
	kv       storage.KV
	key      string
	rt       Realtime
	delay    time.Duration
	onChange func()
	log      *slog.Logger
	now      func() time.Time
	newID    func() string

	mu                sync.RWMutex
	state             PersistedState
	online            bool
	realtimeConnected bool
	lastSync          time.Time
	presence          protocol.PresenceUpdate
	broadcast         *time.Timer
}

func New(opts Options) *Store {
	s := &Store{
		kv:       opts.KV,
		key:      opts.Key,
		rt:       opts.Realtime,
		delay:    opts.BroadcastDelay,
		onChange: opts.OnChange,
		log:      opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
		state:    emptyState(),
	}
	if s.key == "" {
		s.key = DefaultStorageKey
	}
	if s.delay <= 0 {
		s.delay = DefaultBroadcastDelay
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Load replaces the in-memory state with the persisted blob. A blob that
// does not parse is deleted and the store starts empty.
func (s *Store) Load(ctx context.Context) error {
	st := emptyState()
	data, err := s.kv.Get(ctx, s.key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading state: %w", err)
	default:
		parsed, perr := decodeState(data)
		if perr != nil {
			s.log.Warn("discarding unreadable state", "key", s.key, "error", perr)
			if err := s.kv.Delete(ctx, s.key); err != nil {
				s.log.Warn("clearing unreadable state", "key", s.key, "error", err)
			}
		} else {
			st = parsed
		}
	}
	if st.CurrentSpace != nil {
		if _, ok := st.SpaceData[st.CurrentSpace.ID]; !ok {
			st.SpaceData[st.CurrentSpace.ID] = newSpaceData()
		}
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.notify()
	return nil
}

// Subscribe routes every realtime event from src into HandleEvent.
func (s *Store) Subscribe(src EventSource) (unsubscribe func()) {
	types := []realtime.EventType{
		realtime.EventConnect, realtime.EventDisconnect, realtime.EventError,
		realtime.EventPresence, realtime.EventState,
	}
	offs := make([]func(), 0, len(types))
	for _, t := range types {
		offs = append(offs, src.On(t, s.HandleEvent))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (s *Store) HandleEvent(ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.ConnectEvent:
		s.mu.Lock()
		s.realtimeConnected = true
		s.mu.Unlock()
		if e.Reconnect {
			s.joinCurrent()
		}
	case realtime.DisconnectEvent:
		s.mu.Lock()
		s.realtimeConnected = false
		s.presence = protocol.PresenceUpdate{}
		s.mu.Unlock()
	case realtime.ErrorEvent:
		if e.Terminal {
			s.log.Warn("realtime unavailable", "error", e.Err)
		}
		return
	case realtime.PresenceEvent:
		s.mu.Lock()
		if s.state.CurrentSpace != nil && s.state.CurrentSpace.ID == e.Update.SpaceID {
			s.presence = e.Update
		}
		s.mu.Unlock()
	case realtime.StateEvent:
		snap, err := DecodeSnapshot(e.Payload)
		if err != nil {
			s.log.Warn("ignoring state broadcast", "error", err)
			return
		}
		s.ApplySnapshot(snap)
		return
	}
	s.notify()
}

// ApplySnapshot replaces the current space's data with snap and persists
// it. Snapshots for another space, from a newer schema, or sent by this
// client are ignored.
func (s *Store) ApplySnapshot(snap Snapshot) bool {
	s.mu.Lock()
	switch {
	case snap.Version < 1 || snap.Version > SnapshotVersion:
		s.mu.Unlock()
		s.log.Warn("ignoring snapshot with unsupported version", "version", snap.Version)
		return false
	case s.state.CurrentSpace == nil || s.state.CurrentSpace.ID != snap.SpaceID:
		s.mu.Unlock()
		s.log.Debug("ignoring snapshot for other space", "spaceId", snap.SpaceID)
		return false
	case s.rt != nil && snap.SentBy != "" && snap.SentBy == s.rt.SessionID():
		s.mu.Unlock()
		return false
	}

	s.state.SpaceData[snap.SpaceID] = snap.spaceData()
	s.lastSync = s.now()
	err := s.saveLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("persisting merged state", "error", err)
	}
	s.log.Debug("applied snapshot", "spaceId", snap.SpaceID, "sentBy", snap.SentBy, "items", len(snap.Items))
	s.notify()
	return true
}

// SetOnline records the stable connectivity verdict. Going online connects
// the realtime client and joins the current space; going offline
// disconnects it.
func (s *Store) SetOnline(ctx context.Context, online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
	defer s.notify()

	if s.rt == nil {
		return
	}
	if !online {
		s.rt.Disconnect()
		return
	}
	if err := s.rt.Connect(ctx); err != nil && !errors.Is(err, realtime.ErrConnectInProgress) {
		s.log.Warn("realtime connect", "error", err)
	}
	// A failed connect keeps retrying and joins the room once it succeeds.
	s.joinCurrent()
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.presence
	p.Users = slices.Clone(p.Users)
	return Status{
		IsOnline:            s.online,
		IsRealtimeConnected: s.realtimeConnected,
		LastSyncTime:        s.lastSync,
		Presence:            p,
	}
}

// State returns a deep copy of the persisted state.
func (s *Store) State() PersistedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// SpaceData returns a copy of the current space's data.
func (s *Store) SpaceData() (SpaceData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.CurrentSpace == nil {
		return SpaceData{}, false
	}
	d, ok := s.state.SpaceData[s.state.CurrentSpace.ID]
	return d.clone(), ok
}

// PriorityItems returns accepted priority items ordered by level.
func (s *Store) PriorityItems() []Item {
	d, _ := s.SpaceData()
	var out []Item
	for _, it := range d.Items {
		if it.IsPriority && it.Status == ItemAccepted {
			out = append(out, it)
		}
	}
	slices.SortFunc(out, func(a, b Item) int { return a.PriorityLevel - b.PriorityLevel })
	return out
}

func (s *Store) PendingProposals() []Proposal {
	d, _ := s.SpaceData()
	var out []Proposal
	for _, p := range d.Proposals {
		if p.Status == ProposalPending {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) UnreadNotifications() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, note := range s.state.Notifications {
		if !note.Read {
			n++
		}
	}
	return n
}

func (s *Store) SignIn(name, email string) (User, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: name and email are required", ErrInvalidInput)
	}
	defer s.notify()
	s.mu.Lock()
	defer s.mu.Unlock()

	u := User{ID: s.newID(), Name: name, Email: email}
	s.state.CurrentUser = &u
	return u, s.saveLocked()
}

// SignOut leaves the realtime room, clears persisted state and resets the
// store to empty.
func (s *Store) SignOut(ctx context.Context) error {
	defer s.notify()
	s.mu.Lock()
	s.stopBroadcastLocked()
	var spaceID string
	if s.state.CurrentSpace != nil {
		spaceID = s.state.CurrentSpace.ID
	}
	s.state = emptyState()
	s.presence = protocol.PresenceUpdate{}
	s.mu.Unlock()

	if spaceID != "" && s.rt != nil {
		if err := s.rt.LeaveRoom(spaceID); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
			s.log.Debug("leave on sign out", "spaceId", spaceID, "error", err)
		}
	}
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("clearing state: %w", err)
	}
	return nil
}

// CreateSpace creates a space owned by the current user and switches to it.
func (s *Store) CreateSpace(name string) (Space, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Space{}, fmt.Errorf("%w: space name is required", ErrInvalidInput)
	}
	defer s.notify()
	s.mu.Lock()
	if s.state.CurrentUser == nil {
		s.mu.Unlock()
		return Space{}, ErrNoUser
	}
	sp := Space{
		ID:        s.newID(),
		Name:      name,
		Members:   []User{*s.state.CurrentUser},
		CreatedAt: s.now().UTC(),
	}
	s.state.AllSpaces = append(s.state.AllSpaces, sp)
	cur := sp.clone()
	s.state.CurrentSpace = &cur
	s.state.SpaceData[sp.ID] = newSpaceData()
	s.presence = protocol.PresenceUpdate{}
	err := s.saveLocked()
	s.mu.Unlock()

	s.joinCurrent()
	return sp, err
}

// SwitchSpace makes a known space current and moves the realtime client to
// its room.
func (s *Store) SwitchSpace(spaceID string) error {
	defer s.notify()
	s.mu.Lock()
	i := slices.IndexFunc(s.state.AllSpaces, func(sp Space) bool { return sp.ID == spaceID })
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("space %s: %w", spaceID, ErrNotFound)
	}
	if u := s.state.CurrentUser; u != nil && !s.state.AllSpaces[i].hasMember(u.ID) {
		s.state.AllSpaces[i].Members = append(s.state.AllSpaces[i].Members, *u)
	}
	cur := s.state.AllSpaces[i].clone()
	s.state.CurrentSpace = &cur
	if _, ok := s.state.SpaceData[spaceID]; !ok {
		s.state.SpaceData[spaceID] = newSpaceData()
	}
	s.presence = protocol.PresenceUpdate{}
	err := s.saveLocked()
	s.mu.Unlock()

	s.joinCurrent()
	return err
}

func (s *Store) AddItem(in NewItem) (Item, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Item{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	var item Item
	err := s.mutateSpace(func(u User, d *SpaceData) error {
		catName, roomID, icon := detectCategory(title)
		if in.CategoryName != "" {
			catName = in.CategoryName
		}
		if in.RoomID != "" {
			roomID = in.RoomID
		}

		ci := slices.IndexFunc(d.Categories, func(c Category) bool { return c.Name == catName })
		if ci < 0 {
			d.Categories = append(d.Categories, Category{ID: s.newID(), Name: catName, RoomID: roomID, Icon: icon})
			ci = len(d.Categories) - 1
		}
		d.Categories[ci].ItemCount++

		now := s.now().UTC()
		status := ItemAccepted
		if in.AsProposal {
			status = ItemPending
		}
		item = Item{
			ID:           s.newID(),
			Title:        title,
			Description:  in.Description,
			URL:          in.URL,
			ImageURL:     in.ImageURL,
			Price:        in.Price,
			Shop:         in.Shop,
			CategoryID:   d.Categories[ci].ID,
			CategoryName: catName,
			RoomID:       roomID,
			AddedBy:      u.ID,
			Status:       status,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		d.Items = append(d.Items, item)
		return nil
	})
	return item, err
}

// DeleteItem removes the item, its proposals and its priority rank.
func (s *Store) DeleteItem(itemID string) error {
	return s.mutateSpace(func(_ User, d *SpaceData) error {
		i := slices.IndexFunc(d.Items, func(it Item) bool { return it.ID == itemID })
		if i < 0 {
			return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
		}
		removed := d.Items[i]
		d.removeItem(itemID)
		for ci := range d.Categories {
			if d.Categories[ci].ID == removed.CategoryID && d.Categories[ci].ItemCount > 0 {
				d.Categories[ci].ItemCount--
			}
		}
		d.Proposals = slices.DeleteFunc(d.Proposals, func(p Proposal) bool { return p.ItemID == itemID })
		return nil
	})
}

// ProposeItem asks another member to decide on an item.
func (s *Store) ProposeItem(itemID, proposedTo string) (Proposal, error) {
	var p Proposal
	err := s.mutateSpace(func(u User, d *SpaceData) error {
		i := slices.IndexFunc(d.Items, func(it Item) bool { return it.ID == itemID })
		if i < 0 {
			return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
		}
		p = Proposal{
			ID:         s.newID(),
			ItemID:     itemID,
			Item:       d.Items[i],
			ProposedBy: u.ID,
			ProposedTo: proposedTo,
			Status:     ProposalPending,
			CreatedAt:  s.now().UTC(),
		}
		d.Proposals = append(d.Proposals, p)
		return nil
	})
	return p, err
}

// RespondToProposal records the answer. Accepting accepts the item,
// rejecting removes it, later leaves it untouched.
func (s *Store) RespondToProposal(proposalID string, response ProposalStatus) error {
	switch response {
	case ProposalAccepted, ProposalRejected, ProposalLater:
	default:
		return fmt.Errorf("%w: response %q", ErrInvalidInput, response)
	}

	err := s.mutateSpace(func(_ User, d *SpaceData) error {
		pi := slices.IndexFunc(d.Proposals, func(p Proposal) bool { return p.ID == proposalID })
		if pi < 0 {
			return fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
		}
		now := s.now().UTC()
		d.Proposals[pi].Status = response
		d.Proposals[pi].RespondedAt = &now

		itemID := d.Proposals[pi].ItemID
		switch response {
		case ProposalAccepted:
			for i := range d.Items {
				if d.Items[i].ID == itemID {
					d.Items[i].Status = ItemAccepted
					d.Items[i].UpdatedAt = now
				}
			}
		case ProposalRejected:
			d.removeItem(itemID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	text := map[ProposalStatus]string{
		ProposalAccepted: "angenommen",
		ProposalRejected: "abgelehnt",
		ProposalLater:    "verschoben",
	}[response]
	return s.addNotification(NotifyResponse, "Antwort erhalten", "Dein Vorschlag wurde "+text)
}

// TogglePriority adds the item at the end of the priority ranking or
// removes it and closes the gap.
func (s *Store) TogglePriority(itemID string) error {
	return s.mutateSpace(func(_ User, d *SpaceData) error {
		i := slices.IndexFunc(d.Items, func(it Item) bool { return it.ID == itemID })
		if i < 0 {
			return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
		}
		if d.Items[i].IsPriority {
			d.dropPriority(i)
			return nil
		}
		ranked := 0
		for _, it := range d.Items {
			if it.IsPriority {
				ranked++
			}
		}
		if ranked >= MaxPriorityItems {
			return ErrPriorityLimit
		}
		d.Items[i].IsPriority = true
		d.Items[i].PriorityLevel = ranked + 1
		return nil
	})
}

func (s *Store) ToggleFavorite(itemID string) error {
	return s.mutateSpace(func(_ User, d *SpaceData) error {
		for i := range d.Items {
			if d.Items[i].ID == itemID {
				d.Items[i].IsFavorite = !d.Items[i].IsFavorite
				return nil
			}
		}
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	})
}

func (s *Store) UpdateRoomBudget(roomID string, budget float64) error {
	if budget < 0 {
		return fmt.Errorf("%w: negative budget", ErrInvalidInput)
	}
	return s.mutateSpace(func(_ User, d *SpaceData) error {
		for i := range d.Rooms {
			if d.Rooms[i].ID == roomID {
				d.Rooms[i].Budget = budget
				return nil
			}
		}
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	})
}

func (s *Store) AddRoom(name, icon, color string) (Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Room{}, fmt.Errorf("%w: room name is required", ErrInvalidInput)
	}
	var r Room
	err := s.mutateSpace(func(_ User, d *SpaceData) error {
		r = Room{ID: s.newID(), Name: name, Icon: icon, Color: color}
		d.Rooms = append(d.Rooms, r)
		return nil
	})
	return r, err
}

func (s *Store) MarkNotificationRead(id string) error {
	defer s.notify()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Notifications {
		if s.state.Notifications[i].ID == id {
			s.state.Notifications[i].Read = true
			return s.saveLocked()
		}
	}
	return fmt.Errorf("notification %s: %w", id, ErrNotFound)
}

// SetTheme sets the dark mode preference; nil follows the system.
func (s *Store) SetTheme(dark *bool) error {
	defer s.notify()
	s.mu.Lock()
	defer s.mu.Unlock()
	if dark == nil {
		s.state.IsDarkMode = nil
	} else {
		v := *dark
		s.state.IsDarkMode = &v
	}
	return s.saveLocked()
}

// Flush sends a pending broadcast now instead of waiting for the delay.
func (s *Store) Flush() {
	s.mu.Lock()
	pending := s.broadcast != nil
	s.stopBroadcastLocked()
	s.mu.Unlock()
	if pending {
		s.sendBroadcast()
	}
}

// Close drops any pending broadcast.
func (s *Store) Close() {
	s.mu.Lock()
	s.stopBroadcastLocked()
	s.mu.Unlock()
}

// mutateSpace applies fn to the current space's data, persists it and
// schedules a broadcast. The data is left unchanged when fn fails.
func (s *Store) mutateSpace(fn func(u User, d *SpaceData) error) error {
	s.mu.Lock()
	if s.state.CurrentUser == nil {
		s.mu.Unlock()
		return ErrNoUser
	}
	if s.state.CurrentSpace == nil {
		s.mu.Unlock()
		return ErrNoSpace
	}
	spaceID := s.state.CurrentSpace.ID
	d := s.state.SpaceData[spaceID].clone()
	d.initSlices()
	if err := fn(*s.state.CurrentUser, &d); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state.SpaceData[spaceID] = d
	err := s.saveLocked()
	s.scheduleBroadcastLocked()
	s.mu.Unlock()

	s.notify()
	return err
}

func (s *Store) addNotification(t NotificationType, title, message string) error {
	defer s.notify()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := Notification{
		ID:        s.newID(),
		Type:      t,
		Title:     title,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
	s.state.Notifications = append([]Notification{n}, s.state.Notifications...)
	return s.saveLocked()
}

// saveLocked writes the state blob. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	s.state.Version = SnapshotVersion
	data, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

func (s *Store) scheduleBroadcastLocked() {
	if s.rt == nil {
		return
	}
	s.stopBroadcastLocked()
	s.broadcast = time.AfterFunc(s.delay, s.sendBroadcast)
}

func (s *Store) stopBroadcastLocked() {
	if s.broadcast != nil {
		s.broadcast.Stop()
		s.broadcast = nil
	}
}

func (s *Store) sendBroadcast() {
	s.mu.Lock()
	s.broadcast = nil
	if s.state.CurrentSpace == nil || s.rt == nil {
		s.mu.Unlock()
		return
	}
	spaceID := s.state.CurrentSpace.ID
	snap := newSnapshot(spaceID, s.state.SpaceData[spaceID], s.rt.SessionID(), s.now())
	s.mu.Unlock()

	if !s.rt.IsConnected() {
		s.log.Debug("offline, broadcast skipped", "spaceId", spaceID)
		return
	}
	if err := s.rt.BroadcastStateChange(spaceID, snap); err != nil {
		s.log.Warn("broadcast state", "spaceId", spaceID, "error", err)
		return
	}

	s.mu.Lock()
	s.lastSync = s.now()
	s.mu.Unlock()
	s.notify()
}

// joinCurrent points the realtime client at the current space's room. A
// disconnected client joins it once its socket is back.
func (s *Store) joinCurrent() {
	if s.rt == nil {
		return
	}
	s.mu.RLock()
	user, space := s.state.CurrentUser, s.state.CurrentSpace
	var u protocol.User
	var spaceID string
	if user != nil && space != nil {
		u = protocol.User{ID: user.ID, Name: user.Name}
		spaceID = space.ID
	}
	s.mu.RUnlock()

	if spaceID == "" {
		return
	}
	if err := s.rt.JoinRoom(spaceID, u); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
		s.log.Warn("join room", "spaceId", spaceID, "error", err)
	}
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// removeItem deletes the item and closes any gap it leaves in the
// priority ranking.
func (d *SpaceData) removeItem(itemID string) {
	i := slices.IndexFunc(d.Items, func(it Item) bool { return it.ID == itemID })
	if i < 0 {
		return
	}
	if d.Items[i].IsPriority {
		d.dropPriority(i)
	}
	d.Items = slices.Delete(d.Items, i, i+1)
}

func (d *SpaceData) dropPriority(i int) {
	level := d.Items[i].PriorityLevel
	d.Items[i].IsPriority = false
	d.Items[i].PriorityLevel = 0
	for j := range d.Items {
		if d.Items[j].IsPriority && d.Items[j].PriorityLevel > level {
			d.Items[j].PriorityLevel--
		}
	}
}
