// Package protocol defines the message protocol exchanged between clients
// and the server, and the property-map encoding used for char/block/list
// formats.
package protocol

const (
	// SystemAuthorID is the author id used for system-generated operations
	// (e.g. the document's initial sentinel newline, or the one Restore
	// creates for an empty snapshot). Set to max uint32 to avoid conflicts with real
	// author ids (0, 1, 2, ...).
	SystemAuthorID = ^uint32(0)
)

// Char format property ids.
const (
	PropBold uint16 = iota
	PropItalic
	PropUnderline
	PropStrikeThrough
	PropFontFamily
	PropFontSize
	PropColor
	PropBackgroundColor
)

// Block format property ids.
const (
	PropAlignment uint16 = 100 + iota
	PropLineHeight
	PropLineHeightType
	PropIndent
	PropMarginTop
	PropMarginBottom
)

// List format property ids.
const (
	PropListStyle uint16 = 200 + iota
	PropListStart
	PropListIndent
)

// ListStyle values for PropListStyle. Undefined means "remove from list".
const (
	ListStyleUndefined int = iota
	ListStyleDecimal
	ListStyleDisc
	ListStyleCircle
	ListStyleSquare
	ListStyleLowerRoman
	ListStyleUpperRoman
	ListStyleLowerAlpha
	ListStyleUpperAlpha
)

// ErrorKind classifies a Failure message per the error-handling design.
type ErrorKind string

const (
	ErrProtocol ErrorKind = "protocol"
	ErrAuth     ErrorKind = "auth"
	ErrResource ErrorKind = "resource"
	ErrIO       ErrorKind = "io"
)
