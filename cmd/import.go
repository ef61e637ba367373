package main

import (
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/compass/internal/model"
)

// seedFile is the YAML layout accepted by the import command.
type seedFile struct {
	Organizations []seedOrganization `yaml:"organizations"`
}

type seedOrganization struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	WebsiteURL  string `yaml:"website_url"`
}

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import organizations from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open seed file")
		}
		defer f.Close() //nolint:errcheck

		orgs, err := parseSeed(f)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ImportOrganizations(ctx, orgs)
		if err != nil {
			return eris.Wrap(err, "import organizations")
		}

		zap.L().Info("import complete",
			zap.Int64("imported", n),
			zap.String("file", args[0]),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

// parseSeed decodes a seed file. Entries without a name are rejected and
// duplicate names keep the last entry.
func parseSeed(r io.Reader) ([]model.Organization, error) {
	var sf seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "parse seed file")
	}

	index := make(map[string]int, len(sf.Organizations))
	orgs := make([]model.Organization, 0, len(sf.Organizations))
	for i, s := range sf.Organizations {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, eris.Errorf("parse seed file: organization %d has no name", i+1)
		}
		org := model.Organization{
			Name:        name,
			Description: strings.TrimSpace(s.Description),
			WebsiteURL:  strings.TrimSpace(s.WebsiteURL),
		}
		if j, ok := index[name]; ok {
			orgs[j] = org
			continue
		}
		index[name] = len(orgs)
		orgs = append(orgs, org)
	}
	return orgs, nil
}
