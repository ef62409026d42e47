// Package objectstore stores fetched artifacts and hands back stable URIs.
//
// The filesystem implementation writes each object to a temporary sibling
// and renames it into place, so readers never observe a partial object.
// Destination keys are rendered from a path template with {id},
// {media_type}, {ext} and {date} placeholders.
package objectstore
