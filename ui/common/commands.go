package common

type SessionState uint

const (
	CreateNoteView SessionState = iota
	FollowUserView
	ModerationView
	UpdateNoteList
)
