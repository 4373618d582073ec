package realtime

// Server-pushed room events.
const (
	EventNewQuestion             = "new-question"
	EventQuestionUpvoteUpdate    = "question-upvote-update"
	EventQuestionMarkedAnswered  = "question-marked-answered"
	EventQuestionRemoved         = "question-removed"
	EventQuestionRestored        = "question-restored"
	EventQuestionPermanentDelete = "question-permanently-deleted"
	EventVisibilityChanged       = "questions-visibility-changed"
	EventRoomClosed              = "room-closed"
	EventRoomReopened            = "room-reopened"
	EventUserJoined              = "user-joined"
	EventUserLeft                = "user-left"
)

// Client-sent membership actions.
const (
	ActionJoinRoom  = "join-room"
	ActionLeaveRoom = "leave-room"
)

// MembershipNotice is the payload of user-joined and user-left.
type MembershipNotice struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}
