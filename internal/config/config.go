// Package config loads process-wide configuration: the scheduler's
// listen address (env, teacher-style) plus the optional pre-configured
// task file (YAML, spec.md §6's "a single positional gtid argument
// overrides the starting GTID"). Grounded on
// _examples/dollarkillerx-galaxy/internal/config/config.go's
// env-with-default pattern, extended with gopkg.in/yaml.v2 for the
// richer on-disk task bundle the teacher's single ListenAddr field
// didn't need.
package config

import (
	"io/ioutil"
	"os"
	"strings"

	"github.com/pingcap/errors"
	"gopkg.in/yaml.v2"

	"github.com/galaxycdc/replicator/pkg/galaxy"
)

type conf struct {
	ListenAddr       string `yaml:"listen_addr"`
	MetricsNamespace string `yaml:"metrics_namespace"`
	GTIDStorePath    string `yaml:"gtid_store_path"`
	// Task, if non-nil, is started immediately at process startup
	// instead of waiting for a POST /v1/tasks call (spec.md §6).
	Task *galaxy.TaskRequest `yaml:"task"`
}

// Conf is the process-wide configuration, populated by InitConfig.
var Conf *conf

// InitConfig resolves ListenAddr/MetricsNamespace/GTIDStorePath from the
// environment (teacher-style: an env var read with a hardcoded default),
// then — if GALAXY_CONFIG_FILE names a file — merges in the on-disk task
// bundle.
func InitConfig() error {
	listenAddr := "0.0.0.0:8689"
	if v := strings.TrimSpace(os.Getenv("ListenAddr")); v != "" {
		listenAddr = v
	}

	metricsNamespace := strings.TrimSpace(os.Getenv("MetricsNamespace"))

	gtidStorePath := "./galaxy_data"
	if v := strings.TrimSpace(os.Getenv("GTIDStorePath")); v != "" {
		gtidStorePath = v
	}

	c := &conf{
		ListenAddr:       listenAddr,
		MetricsNamespace: metricsNamespace,
		GTIDStorePath:    gtidStorePath,
	}

	if path := strings.TrimSpace(os.Getenv("GALAXY_CONFIG_FILE")); path != "" {
		raw, err := ioutil.ReadFile(path)
		if err != nil {
			return errors.WithStack(err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return errors.WithStack(err)
		}
	}

	Conf = c
	return nil
}
