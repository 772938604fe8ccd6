package geneset

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseGMT reads the tab-separated GMT format: id, description, genes.
// Every set inherits hierarchy and organism.
func ParseGMT(r io.Reader, hierarchy []string, organism string) ([]GeneSet, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	var sets []GeneSet
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r\n\t ")
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 2 || fields[0] == "" {
			return nil, fmt.Errorf("gmt: line %d: want id and description", line)
		}

		set := GeneSet{
			ID:        fields[0],
			Name:      fields[0],
			Hierarchy: append([]string(nil), hierarchy...),
			Organism:  organism,
		}
		if desc := fields[1]; strings.HasPrefix(desc, "http://") || strings.HasPrefix(desc, "https://") {
			set.Link = desc
		} else {
			set.Description = desc
		}
		seen := make(map[string]struct{}, len(fields)-2)
		for _, g := range fields[2:] {
			g = strings.TrimSpace(g)
			if g == "" {
				continue
			}
			if _, dup := seen[g]; dup {
				continue
			}
			seen[g] = struct{}{}
			set.Genes = append(set.Genes, g)
		}
		sets = append(sets, set)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("gmt: %w", err)
	}
	return sets, nil
}

// WriteGMT writes sets in GMT format.
func WriteGMT(w io.Writer, sets []GeneSet) error {
	bw := bufio.NewWriter(w)
	for _, s := range sets {
		desc := s.Description
		if s.Link != "" {
			desc = s.Link
		}
		if desc == "" {
			desc = s.Name
		}
		fields := append([]string{s.ID, desc}, s.Genes...)
		if _, err := bw.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
