package models

// StoreKind identifies the on-disk format backing a bookmark store
type StoreKind string

const (
	// StoreKindPlaces is the relational places.sqlite store used by Firefox
	StoreKindPlaces StoreKind = "places"
	// StoreKindChromium is the tree-structured "Bookmarks" JSON file used by Chrome, Edge and Brave
	StoreKindChromium StoreKind = "chromium"
)

// Valid reports whether k names a supported store kind
func (k StoreKind) Valid() bool {
	return k == StoreKindPlaces || k == StoreKindChromium
}

// NodeKind is the type of a node in the normalized tree
type NodeKind string

const (
	NodeKindFolder   NodeKind = "folder"
	NodeKindBookmark NodeKind = "bookmark"
)

// BookmarkNode is a folder or bookmark in the normalized tree.
// Timestamps are store-native (microseconds since the Unix epoch for places,
// microseconds since 1601-01-01 for chromium) and only comparable within a store.
type BookmarkNode struct {
	ID         int64    `json:"id"`
	Kind       NodeKind `json:"kind"`
	Title      string   `json:"title"`
	URL        string   `json:"url,omitempty"`
	ParentID   *int64   `json:"parent_id,omitempty"`
	Children   []int64  `json:"children,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	CreatedAt  int64    `json:"created_at"`
	ModifiedAt int64    `json:"modified_at"`
	Path       string   `json:"path,omitempty"` // Slash-joined titles of the ancestor folders
}

// IsFolder reports whether the node is a folder
func (n *BookmarkNode) IsFolder() bool {
	return n.Kind == NodeKindFolder
}

// IsRoot reports whether the node is one of the store's synthetic roots
func (n *BookmarkNode) IsRoot() bool {
	return n.ParentID == nil
}

// Capabilities describes optional features supported by a store kind
type Capabilities struct {
	Tags bool `json:"tags"`
}

// Ref identifies a node either by id or by url
type Ref struct {
	ID  *int64 `json:"id,omitempty"`
	URL string `json:"url,omitempty"`
}

// Empty reports whether neither identifier is set
func (r Ref) Empty() bool {
	return r.ID == nil && r.URL == ""
}

// AddRequest describes a bookmark to create
type AddRequest struct {
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	FolderPath      string   `json:"folder_path,omitempty"`
	AllowDuplicates bool     `json:"allow_duplicates,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// AddResult is returned by an add operation. Duplicate is set when the url was
// already present and nothing was written.
type AddResult struct {
	Node           *BookmarkNode `json:"node,omitempty"`
	Duplicate      bool          `json:"duplicate"`
	CreatedFolders []string      `json:"created_folders,omitempty"`
}

// EditRequest describes a rename and/or move of an existing node
type EditRequest struct {
	Ref           Ref     `json:"ref"`
	NewTitle      *string `json:"new_title,omitempty"`
	NewFolderPath string  `json:"new_folder_path,omitempty"`
	CreateFolders *bool   `json:"create_folders,omitempty"` // nil creates missing folders
	DryRun        bool    `json:"dry_run"`
}

// CreatesFolders reports whether missing destination folders are created
func (r EditRequest) CreatesFolders() bool {
	return r.CreateFolders == nil || *r.CreateFolders
}

// HasChanges reports whether the request asks for at least one change
func (r EditRequest) HasChanges() bool {
	return (r.NewTitle != nil && *r.NewTitle != "") || r.NewFolderPath != ""
}

// EditResult describes what an edit changed, or would change for a dry run
type EditResult struct {
	Node           BookmarkNode `json:"node"`
	Renamed        bool         `json:"renamed"`
	Moved          bool         `json:"moved"`
	OldTitle       string       `json:"old_title,omitempty"`
	FromParentID   int64        `json:"from_parent_id,omitempty"`
	ToParentID     int64        `json:"to_parent_id,omitempty"`
	CreatedFolders []string     `json:"created_folders,omitempty"`
	DryRun         bool         `json:"dry_run"`
}

// DeleteResult confirms a delete, or describes what a dry run would remove
type DeleteResult struct {
	Node    BookmarkNode `json:"node"`
	Removed int          `json:"removed"` // Number of nodes removed including descendants
	DryRun  bool         `json:"dry_run"`
}

// ListResult is an ordered list of bookmarks together with how the store was read
type ListResult struct {
	Nodes         []BookmarkNode `json:"nodes"`
	AccessMethod  string         `json:"access_method"`
	PossiblyStale bool           `json:"possibly_stale"`
}

// SearchHit is a bookmark matching a search query
type SearchHit struct {
	Node  BookmarkNode `json:"node"`
	Score int          `json:"score"`
	Field string       `json:"field"` // Best matching field
}

// DuplicateGroup is a set of bookmarks considered duplicates of each other
type DuplicateGroup struct {
	Key     string  `json:"key"`
	Reason  string  `json:"reason"` // "url" or "title"
	Score   float64 `json:"score"`
	NodeIDs []int64 `json:"node_ids"`
}

// TagCount is the usage count of a tag
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// TagChange replaces the tag set of one bookmark
type TagChange struct {
	NodeID int64    `json:"node_id"`
	Old    []string `json:"old"`
	New    []string `json:"new"`
}

// ItemFailure records a failed item in a batch
type ItemFailure struct {
	NodeID int64  `json:"node_id,omitempty"`
	URL    string `json:"url,omitempty"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// BatchResult summarizes a batch mutation that continues past item failures
type BatchResult struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

// TagOperationResult is returned by tag merge and cleanup
type TagOperationResult struct {
	Changes    []TagChange  `json:"changes"`
	Candidates []TagCount   `json:"candidates,omitempty"`
	Applied    *BatchResult `json:"applied,omitempty"`
	DryRun     bool         `json:"dry_run"`
}

// StoreStats summarizes the contents of a store
type StoreStats struct {
	Bookmarks     int    `json:"bookmarks"`
	Folders       int    `json:"folders"`
	Tags          int    `json:"tags"`
	MaxDepth      int    `json:"max_depth"`
	UniqueURLs    int    `json:"unique_urls"`
	AccessMethod  string `json:"access_method"`
	PossiblyStale bool   `json:"possibly_stale"`
}

// StoreInfo describes a configured store
type StoreInfo struct {
	Name         string       `json:"name"`
	Kind         StoreKind    `json:"kind"`
	Path         string       `json:"path"`
	Exists       bool         `json:"exists"`
	OwnerRunning bool         `json:"owner_running"`
	Capabilities Capabilities `json:"capabilities"`
}
