// Package authz holds the level-based permission rules.
package authz

import "classhub/internal/models"

// CanModify reports whether an actor may ban, edit or delete a target.
// Only strictly higher levels qualify, so peers and self are denied.
func CanModify(acting, target models.Level) bool {
	return acting > target
}

func AtLeast(level models.Level, min int) bool {
	return int(level) >= min
}

// CanManageArticle allows editors and the article's own author.
func CanManageArticle(level models.Level, userID string, editorMin int, authorID string) bool {
	return AtLeast(level, editorMin) || (userID != "" && userID == authorID)
}
