package extract

// PageWriter persists one page and its outbound links atomically.
type PageWriter interface {
	InsertPage(title string, links []string) error
}

// Recorder is an append-only sink for titles whose markup could not be
// parsed.
type Recorder interface {
	Record(title string) error
}
