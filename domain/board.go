package domain

import "time"

// Board owns an unordered membership set of lists. Display order is carried by
// each List's Order field.
type Board struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"ownerId"`
	Members   []string  `json:"members,omitempty"`
	Lists     []string  `json:"lists"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// List is a column of cards on a board.
type List struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Title     string    `json:"title"`
	Order     int       `json:"order"`
	Cards     []string  `json:"cards"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Card is a single board item. Everything below Order is payload the ordering
// engines copy or carry along without interpreting.
type Card struct {
	ID          string       `json:"id"`
	BoardID     string       `json:"boardId"`
	ListID      string       `json:"listId"`
	Title       string       `json:"title"`
	Order       int          `json:"order"`
	Description string       `json:"description,omitempty"`
	StartDate   *time.Time   `json:"startDate,omitempty"`
	DueDate     *time.Time   `json:"dueDate,omitempty"`
	Labels      []Label      `json:"labels,omitempty"`
	Assignees   []string     `json:"assignees,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Comments    []Comment    `json:"comments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
}

type Comment struct {
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasMember reports whether userID owns the board or was added as a member.
func (b *Board) HasMember(userID string) bool {
	if b == nil || userID == "" {
		return false
	}
	if b.OwnerID == userID {
		return true
	}
	for _, m := range b.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// copyPayload returns a card carrying c's payload with no identity, parent or
// timestamps. Slices are copied so the result shares no backing arrays with c.
func copyPayload(c Card) Card {
	out := Card{
		Title:       c.Title,
		Description: c.Description,
	}
	if c.StartDate != nil {
		t := *c.StartDate
		out.StartDate = &t
	}
	if c.DueDate != nil {
		t := *c.DueDate
		out.DueDate = &t
	}
	if c.Labels != nil {
		out.Labels = append([]Label(nil), c.Labels...)
	}
	if c.Assignees != nil {
		out.Assignees = append([]string(nil), c.Assignees...)
	}
	if c.Attachments != nil {
		out.Attachments = append([]Attachment(nil), c.Attachments...)
	}
	if c.Comments != nil {
		out.Comments = append([]Comment(nil), c.Comments...)
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func appendID(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
