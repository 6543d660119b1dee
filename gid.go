package shopify

import (
	"fmt"
	"regexp"
	"strconv"
)

var gidRegex = regexp.MustCompile(`^gid://shopify/(\w+)/(\d+)$`)

// GID is a parsed Shopify global id of the form gid://shopify/<Type>/<id>.
type GID struct {
	Type string
	ID   int64
}

// ParseGID decodes a gid://shopify/<Type>/<id> string.
func ParseGID(gid string) (GID, error) {
	submatches := gidRegex.FindStringSubmatch(gid)
	if len(submatches) != 3 {
		return GID{}, fmt.Errorf("malformed gid=`%s`", gid)
	}
	id, err := strconv.ParseInt(submatches[2], 10, 64)
	if err != nil {
		return GID{}, fmt.Errorf("malformed gid=`%s`: %w", gid, err)
	}
	if id <= 0 {
		return GID{}, fmt.Errorf("malformed gid=`%s`: non-positive id", gid)
	}
	return GID{Type: submatches[1], ID: id}, nil
}

// String re-encodes the GID in wire form.
func (g GID) String() string {
	return fmt.Sprintf("gid://shopify/%s/%d", g.Type, g.ID)
}

// GIDType returns only the resource type of a gid string, "" when malformed.
func GIDType(gid string) string {
	submatches := gidRegex.FindStringSubmatch(gid)
	if len(submatches) != 3 {
		return ""
	}
	return submatches[1]
}

// GIDID returns only the numeric id of a gid string, 0 when malformed.
func GIDID(gid string) int64 {
	g, err := ParseGID(gid)
	if err != nil {
		return 0
	}
	return g.ID
}
