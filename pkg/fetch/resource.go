// Package fetch downloads external artifacts into the cache directory.
//
// Downloads land in a unique temporary sibling and are renamed into place,
// so readers never observe a partial file and a present file is never
// overwritten.
package fetch

import "path"

// Resource describes one downloadable artifact.
type Resource struct {
	Home      string `json:"home"` // upstream name, e.g. "NCBI_geneinfo"
	Version   string `json:"version"`
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	License   string `json:"license,omitempty"`
	CachePath string `json:"cachePath"` // directory below the cache root
}

// LocalPath is CachePath/Filename relative to the cache root.
func (r Resource) LocalPath() string {
	return path.Join(r.CachePath, r.Filename)
}

func (r Resource) key() string {
	return r.LocalPath() + "\x00" + r.URL
}
