package middleware

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Input validation and sanitization utilities

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateUserID validates user ID format
func ValidateUserID(user string) error {
	if user == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if !idPattern.MatchString(user) {
		return fmt.Errorf("invalid user ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateReportID validates report ID format
func ValidateReportID(id string) error {
	if id == "" {
		return fmt.Errorf("report ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid report ID format")
	}
	return nil
}

const maxDoctors = 20

// ValidateDoctorIDs checks a share request.
func ValidateDoctorIDs(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("doctor_ids cannot be empty")
	}
	if len(ids) > maxDoctors {
		return fmt.Errorf("at most %d doctors per request", maxDoctors)
	}
	for _, id := range ids {
		if !idPattern.MatchString(strings.TrimSpace(id)) {
			return fmt.Errorf("invalid doctor ID %q", id)
		}
	}
	return nil
}

// ValidateImageRef validates image references (for security)
func ValidateImageRef(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("image_ref cannot be empty")
	}
	if len(ref) > 512 {
		return fmt.Errorf("image_ref too long")
	}
	rest := ref
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	// Block path traversal attempts
	for _, seg := range strings.Split(rest, "/") {
		if seg == ".." {
			return fmt.Errorf("path traversal detected")
		}
	}
	if path.IsAbs(rest) && !strings.Contains(ref, "://") {
		return fmt.Errorf("absolute paths are not allowed")
	}
	dangerous := []string{"$(", "`", "\x00", "\n", "\r"}
	for _, d := range dangerous {
		if strings.Contains(ref, d) {
			return fmt.Errorf("invalid characters in image_ref")
		}
	}
	return nil
}

// ValidateImageOwner checks that ref sits under the user's upload prefix.
// MinIO references carry the bucket name as their first segment.
func ValidateImageOwner(user, ref string) error {
	rest := strings.TrimPrefix(strings.TrimSpace(ref), "file://")
	if after, ok := strings.CutPrefix(rest, "minio://"); ok {
		_, rest, _ = strings.Cut(after, "/")
	}
	owner, _, ok := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	if !ok || user == "" || owner != user {
		return fmt.Errorf("image_ref does not belong to user %q", user)
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
