package constants

import "strings"

// ImageExtensions lists the source image extensions in lookup order.
var ImageExtensions = []string{"png", "jpg", "jpeg"}

// AnnotationExt is the extension of ground-truth files.
const AnnotationExt = "json"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
