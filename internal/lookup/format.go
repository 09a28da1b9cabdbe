package lookup

import "strconv"

// formatSiteID renders a submission's site id as the spec's
// string-encoded integer (site_id_str), matching the wire convention
// used for ids large enough to lose precision in JSON numbers.
func formatSiteID(id int64) string {
	return strconv.FormatInt(id, 10)
}
