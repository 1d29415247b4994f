package pkgdb

import (
	"encoding/xml"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/quay/claircore/toolkit/types/cpe"
)

// pkgMetadata is the part of a package's metadata.xml we read.
type pkgMetadata struct {
	XMLName  xml.Name `xml:"pkgmetadata"`
	Upstream []struct {
		RemoteIDs []struct {
			Type  string `xml:"type,attr"`
			Value string `xml:",chardata"`
		} `xml:"remote-id"`
	} `xml:"upstream"`
}

// readCPEs returns the CPE remote-ids of a metadata.xml file as written,
// in document order. A missing or unreadable file has none. Identifiers that
// do not parse as a CPE are logged and dropped, and an identifier naming the
// same platform as an earlier one is dropped too.
func readCPEs(path string, logger *log.Logger) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var md pkgMetadata
	if err := xml.Unmarshal(data, &md); err != nil {
		logger.Debug("skipping unparsable metadata", "path", path, "err", err)
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, up := range md.Upstream {
		for _, id := range up.RemoteIDs {
			if id.Type != "cpe" {
				continue
			}
			v := strings.TrimSpace(id.Value)
			if v == "" {
				continue
			}
			wfn, err := cpe.Unbind(v)
			if err != nil {
				logger.Warn("dropping invalid CPE in metadata", "path", path, "cpe", v, "err", err)
				continue
			}
			if bound := wfn.BindFS(); !seen[bound] {
				seen[bound] = true
				out = append(out, v)
			}
		}
	}
	return out
}
