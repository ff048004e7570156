package enums

// FileStorageCategory is the blob namespace a reference lives under.
type FileStorageCategory string

const (
	FileStorageOutgoingMessage FileStorageCategory = "outgoing"
	FileStorageBundleDocument  FileStorageCategory = "peeked"
)

func (c FileStorageCategory) IsValid() bool {
	return c == FileStorageOutgoingMessage || c == FileStorageBundleDocument
}
