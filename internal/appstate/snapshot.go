package appstate

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// SnapshotVersion is the schema version written into every broadcast.
// Snapshots from a newer schema are ignored rather than half-applied.
const SnapshotVersion = 1

// SpaceData is the shared dataset of one space.
type SpaceData struct {
	Items      []Item     `json:"items"`
	Proposals  []Proposal `json:"proposals"`
	Categories []Category `json:"categories"`
	Rooms      []Room     `json:"rooms"`
}

func newSpaceData() SpaceData {
	return SpaceData{
		Items:      []Item{},
		Proposals:  []Proposal{},
		Categories: []Category{},
		Rooms:      DefaultRooms(),
	}
}

func (d SpaceData) clone() SpaceData {
	return SpaceData{
		Items:      slices.Clone(d.Items),
		Proposals:  slices.Clone(d.Proposals),
		Categories: slices.Clone(d.Categories),
		Rooms:      slices.Clone(d.Rooms),
	}
}

// initSlices makes nil slices empty after decoding.
func (d *SpaceData) initSlices() {
	if d.Items == nil {
		d.Items = []Item{}
	}
	if d.Proposals == nil {
		d.Proposals = []Proposal{}
	}
	if d.Categories == nil {
		d.Categories = []Category{}
	}
	if d.Rooms == nil {
		d.Rooms = DefaultRooms()
	}
}

// PersistedState is the blob stored under the storage key.
type PersistedState struct {
	Version       int                  `json:"version"`
	CurrentUser   *User                `json:"currentUser"`
	CurrentSpace  *Space               `json:"currentSpace"`
	AllSpaces     []Space              `json:"allSpaces"`
	SpaceData     map[string]SpaceData `json:"spaceData"`
	Notifications []Notification       `json:"notifications"`

	// IsDarkMode nil means follow the system preference.
	IsDarkMode *bool `json:"isDarkMode"`
}

func emptyState() PersistedState {
	return PersistedState{
		Version:       SnapshotVersion,
		AllSpaces:     []Space{},
		SpaceData:     make(map[string]SpaceData),
		Notifications: []Notification{},
	}
}

func decodeState(data []byte) (PersistedState, error) {
	st := emptyState()
	if err := json.Unmarshal(data, &st); err != nil {
		return PersistedState{}, fmt.Errorf("parsing state: %w", err)
	}
	if st.AllSpaces == nil {
		st.AllSpaces = []Space{}
	}
	if st.SpaceData == nil {
		st.SpaceData = make(map[string]SpaceData)
	}
	for id, d := range st.SpaceData {
		d.initSlices()
		st.SpaceData[id] = d
	}
	if st.Notifications == nil {
		st.Notifications = []Notification{}
	}
	return st, nil
}

func (st PersistedState) clone() PersistedState {
	cp := st
	if st.CurrentUser != nil {
		u := *st.CurrentUser
		cp.CurrentUser = &u
	}
	if st.CurrentSpace != nil {
		sp := st.CurrentSpace.clone()
		cp.CurrentSpace = &sp
	}
	cp.AllSpaces = make([]Space, len(st.AllSpaces))
	for i, sp := range st.AllSpaces {
		cp.AllSpaces[i] = sp.clone()
	}
	cp.SpaceData = make(map[string]SpaceData, len(st.SpaceData))
	for id, d := range st.SpaceData {
		cp.SpaceData[id] = d.clone()
	}
	cp.Notifications = slices.Clone(st.Notifications)
	if st.IsDarkMode != nil {
		v := *st.IsDarkMode
		cp.IsDarkMode = &v
	}
	return cp
}

// Snapshot is the full shared state of one space as sent over the
// state channel. Receivers replace their copy of the space wholesale.
type Snapshot struct {
	Version    int        `json:"version"`
	SpaceID    string     `json:"spaceId"`
	Items      []Item     `json:"items"`
	Proposals  []Proposal `json:"proposals"`
	Categories []Category `json:"categories"`
	Rooms      []Room     `json:"rooms"`
	SentBy     string     `json:"sentBy,omitempty"`
	SentAt     time.Time  `json:"sentAt"`
}

func newSnapshot(spaceID string, d SpaceData, sentBy string, at time.Time) Snapshot {
	d = d.clone()
	return Snapshot{
		Version:    SnapshotVersion,
		SpaceID:    spaceID,
		Items:      d.Items,
		Proposals:  d.Proposals,
		Categories: d.Categories,
		Rooms:      d.Rooms,
		SentBy:     sentBy,
		SentAt:     at.UTC(),
	}
}

func (s Snapshot) spaceData() SpaceData {
	d := SpaceData{
		Items:      slices.Clone(s.Items),
		Proposals:  slices.Clone(s.Proposals),
		Categories: slices.Clone(s.Categories),
		Rooms:      slices.Clone(s.Rooms),
	}
	d.initSlices()
	return d
}

// DecodeSnapshot parses a state:broadcast payload.
func DecodeSnapshot(raw json.RawMessage) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
