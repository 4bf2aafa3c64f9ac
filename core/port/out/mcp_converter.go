package out

// Converter turns one attachment format into plain text.
type Converter interface {
	// Supports reports whether the converter handles the extension
	// (lower-case, without the leading dot).
	Supports(ext string) bool
	// SupportedExtensions lists the handled extensions.
	SupportedExtensions() []string
	// Convert extracts text from the raw file bytes.
	Convert(data []byte, filename string) (string, error)
}
