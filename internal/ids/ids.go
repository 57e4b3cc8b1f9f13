// Package ids defines the opaque identifier types threaded through the
// runtime. BrowserId, PageId, FrameId, SessionId and ActionId never reveal
// browser-assigned CDP ids — the session registry holds that mapping.
package ids

import "github.com/RcityLucas/SoulBrowser-sub002/idgen"

// BrowserId identifies a browser process/connection.
type BrowserId string

// PageId identifies a page (CDP target of type "page").
type PageId string

// FrameId identifies a frame within a page.
type FrameId string

// SessionId identifies a CDP session attached to a target.
type SessionId string

// ActionId identifies a single tool-runtime action execution.
type ActionId string

var (
	newBrowserID = idgen.Prefixed("brw_", idgen.Default)
	newPageID    = idgen.Prefixed("pg_", idgen.Default)
	newFrameID   = idgen.Prefixed("fr_", idgen.Default)
	newSessionID = idgen.Prefixed("ses_", idgen.Default)
	newActionID  = idgen.Prefixed("act_", idgen.Default)
)

// NewBrowserId mints a new opaque BrowserId.
func NewBrowserId() BrowserId { return BrowserId(newBrowserID()) }

// NewPageId mints a new opaque PageId.
func NewPageId() PageId { return PageId(newPageID()) }

// NewFrameId mints a new opaque FrameId.
func NewFrameId() FrameId { return FrameId(newFrameID()) }

// NewSessionId mints a new opaque SessionId.
func NewSessionId() SessionId { return SessionId(newSessionID()) }

// NewActionId mints a new opaque ActionId.
func NewActionId() ActionId { return ActionId(newActionID()) }
