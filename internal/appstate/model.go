package appstate

import (
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

type Space struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []User    `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

func (sp Space) clone() Space {
	sp.Members = slices.Clone(sp.Members)
	return sp
}

func (sp Space) hasMember(userID string) bool {
	return slices.ContainsFunc(sp.Members, func(u User) bool { return u.ID == userID })
}

type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemAccepted ItemStatus = "accepted"
	ItemRejected ItemStatus = "rejected"
)

type Item struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	URL           string     `json:"url,omitempty"`
	ImageURL      string     `json:"imageUrl,omitempty"`
	Price         float64    `json:"price,omitempty"`
	Shop          string     `json:"shop,omitempty"`
	CategoryID    string     `json:"categoryId"`
	CategoryName  string     `json:"categoryName,omitempty"`
	RoomID        string     `json:"roomId,omitempty"`
	AddedBy       string     `json:"addedBy"`
	Status        ItemStatus `json:"status"`
	IsPriority    bool       `json:"isPriority,omitempty"`
	PriorityLevel int        `json:"priorityLevel,omitempty"`
	IsFavorite    bool       `json:"isFavorite,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
	ProposalLater    ProposalStatus = "later"
)

type Proposal struct {
	ID          string         `json:"id"`
	ItemID      string         `json:"itemId"`
	Item        Item           `json:"item"`
	ProposedBy  string         `json:"proposedBy"`
	ProposedTo  string         `json:"proposedTo"`
	Status      ProposalStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	RespondedAt *time.Time     `json:"respondedAt,omitempty"`
}

type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RoomID    string `json:"roomId,omitempty"`
	ItemCount int    `json:"itemCount"`
	Icon      string `json:"icon,omitempty"`
}

// Room is a furnished physical room, unrelated to realtime rooms.
type Room struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Budget float64 `json:"budget"`
	Spent  float64 `json:"spent"`
	Color  string  `json:"color"`
	Icon   string  `json:"icon,omitempty"`
}

type NotificationType string

const (
	NotifyProposal NotificationType = "proposal"
	NotifyResponse NotificationType = "response"
	NotifyJoined   NotificationType = "joined"
	NotifyPriority NotificationType = "priority"
	NotifyInfo     NotificationType = "info"
	NotifyError    NotificationType = "error"
)

type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

// DefaultRooms returns the rooms every new space starts with.
func DefaultRooms() []Room {
	return []Room{
		{ID: "livingRoom", Name: "Wohnzimmer", Budget: 3000, Color: "#E8B4A0", Icon: "sofa"},
		{ID: "bedroom", Name: "Schlafzimmer", Budget: 2000, Color: "#A0C4E8", Icon: "bed"},
		{ID: "kitchen", Name: "Küche", Budget: 4000, Color: "#B8E0A0", Icon: "utensils"},
		{ID: "bathroom", Name: "Badezimmer", Budget: 1500, Color: "#A0E0D8", Icon: "droplet"},
		{ID: "dining", Name: "Esszimmer", Budget: 1500, Color: "#E0D0A0", Icon: "utensils-crossed"},
		{ID: "office", Name: "Büro", Budget: 1000, Color: "#C8A0E0", Icon: "briefcase"},
		{ID: "balcony", Name: "Balkon", Budget: 500, Color: "#F0E0A0", Icon: "sun"},
	}
}

type categoryRule struct {
	keyword string
	room    string
	icon    string
}

// Checked in order; the first keyword contained in the title wins.
var categoryRules = []categoryRule{
	{"sofa", "livingRoom", "sofa"},
	{"couch", "livingRoom", "sofa"},
	{"stuhl", "dining", "armchair"},
	{"chair", "dining", "armchair"},
	{"tisch", "dining", "square"},
	{"table", "dining", "square"},
	{"bett", "bedroom", "bed"},
	{"bed", "bedroom", "bed"},
	{"schrank", "bedroom", "archive"},
	{"wardrobe", "bedroom", "archive"},
	{"küche", "kitchen", "utensils"},
	{"kitchen", "kitchen", "utensils"},
	{"bad", "bathroom", "droplet"},
	{"bathroom", "bathroom", "droplet"},
	{"lampe", "livingRoom", "lamp"},
	{"lamp", "livingRoom", "lamp"},
	{"teppich", "livingRoom", "square"},
	{"rug", "livingRoom", "square"},
	{"regal", "livingRoom", "book"},
	{"shelf", "livingRoom", "book"},
}

// detectCategory guesses category name, room and icon from an item title.
func detectCategory(title string) (name, roomID, icon string) {
	lower := strings.ToLower(title)
	for _, r := range categoryRules {
		if strings.Contains(lower, r.keyword) {
			return capitalize(r.keyword), r.room, r.icon
		}
	}
	return "Sonstiges", "livingRoom", "package"
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
