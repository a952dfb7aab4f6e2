package domain

import "time"

// BoardChanged is the notification emitted after any successful mutation of
// a board, its lists or its cards. Consumers re-read the board view.
type BoardChanged struct {
	BoardID   string `json:"boardId"`
	Initiator string `json:"initiator,omitempty"`
	Time      int64  `json:"time"`
}

// NewBoardChanged stamps the event with the current time in milliseconds.
func NewBoardChanged(boardID, initiator string) BoardChanged {
	return BoardChanged{BoardID: boardID, Initiator: initiator, Time: time.Now().UnixMilli()}
}
