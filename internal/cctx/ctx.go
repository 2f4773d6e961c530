package cctx

type ContextKey string

var (
	ActorID       ContextKey = "rc:uid"
	ActorUsername ContextKey = "rc:uname"
	RequestID     ContextKey = "rc:rid"
)
