package satchel

import "github.com/zoobzio/capitan"

// Signals for attachment lifecycle events.
var (
	AssignStarted     = capitan.NewSignal("satchel.assign.started", "File assignment initiated")
	AssignCompleted   = capitan.NewSignal("satchel.assign.completed", "File cached and assigned")
	AssignFailed      = capitan.NewSignal("satchel.assign.failed", "File assignment failed")
	PromoteStarted    = capitan.NewSignal("satchel.promote.started", "Promotion to store initiated")
	PromoteCompleted  = capitan.NewSignal("satchel.promote.completed", "Promotion committed")
	PromoteConflict   = capitan.NewSignal("satchel.promote.conflict", "Promotion lost to a concurrent change")
	PromoteFailed     = capitan.NewSignal("satchel.promote.failed", "Promotion failed")
	DestroyCompleted  = capitan.NewSignal("satchel.destroy.completed", "Attachment destroyed")
	DestroyFailed     = capitan.NewSignal("satchel.destroy.failed", "Attachment destruction failed")
	UploadCompleted   = capitan.NewSignal("satchel.upload.completed", "File uploaded to storage")
	DeleteCompleted   = capitan.NewSignal("satchel.delete.completed", "File deleted from storage")
	MirrorCompleted   = capitan.NewSignal("satchel.mirror.completed", "Mirror operation succeeded")
	MirrorFailed      = capitan.NewSignal("satchel.mirror.failed", "Mirror operation failed")
	BackupCompleted   = capitan.NewSignal("satchel.backup.completed", "Backup operation succeeded")
	BackupFailed      = capitan.NewSignal("satchel.backup.failed", "Backup operation failed")
	BatchFailed       = capitan.NewSignal("satchel.batch.failed", "Parallel batch aborted")
	DispatchFailed    = capitan.NewSignal("satchel.dispatch.failed", "Background task failed")
	CleanupIncomplete = capitan.NewSignal("satchel.cleanup.incomplete", "Orphaned files could not be removed")
)

// Field keys for event extraction.
var (
	FieldAttachment = capitan.NewStringKey("attachment")
	FieldRecord     = capitan.NewStringKey("record")
	FieldStorage    = capitan.NewStringKey("storage")
	FieldMirror     = capitan.NewStringKey("mirror")
	FieldID         = capitan.NewStringKey("id")
	FieldOp         = capitan.NewStringKey("op")
	FieldDuration   = capitan.NewDurationKey("duration")
	FieldError      = capitan.NewErrorKey("error")
	FieldCount      = capitan.NewInt64Key("count")
	FieldSize       = capitan.NewInt64Key("size")
)
