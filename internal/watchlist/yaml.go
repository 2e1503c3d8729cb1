package watchlist

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"limitwatch/internal/domain"
)

// YAMLFile is a watchlist of the form
//
//	views:
//	  - name: Tech
//	    symbols:
//	      - {symbol: "2330", name: TSMC}
type YAMLFile string

type yamlDoc struct {
	Views []domain.ViewSpec `yaml:"views"`
}

// Load implements Source.
func (y YAMLFile) Load(_ context.Context) ([]domain.ViewSpec, error) {
	data, err := os.ReadFile(string(y))
	if err != nil {
		return nil, err
	}
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	return doc.Views, nil
}
