package webapi

import (
	"net/url"
	"strings"
)

// JobURL is the REST resource of one job on computer.
func JobURL(baseURL, computer, jobID string) string {
	return strings.TrimRight(baseURL, "/") + "/queue/computer/" + url.PathEscape(computer) + "/jobs/" + url.PathEscape(jobID) + "/"
}

// JobsURL is the collection jobs are submitted to.
func JobsURL(baseURL, computer string) string {
	return strings.TrimRight(baseURL, "/") + "/queue/computer/" + url.PathEscape(computer) + "/jobs/"
}
