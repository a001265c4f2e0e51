// Package naming holds the themed VM name catalogs and the deterministic
// name generator used by batch provisioning.
package naming

import (
	"fmt"
	"math/rand"
	"sort"
)

// themes maps a theme identifier to its ordered catalog of base names.
// Catalogs are data only; nothing here talks to a hypervisor.
var themes = map[string][]string{
	"databases": {
		"mongo", "postgres", "mysql", "redis", "elastic", "cassandra",
		"influx", "neo4j", "couch", "mariadb", "sqlite", "cockroach",
		"timescale", "clickhouse", "dynamo",
	},
	"webservers": {
		"nginx", "apache", "caddy", "traefik", "haproxy", "envoy",
		"varnish", "lighttpd", "tomcat", "jetty", "gunicorn", "uvicorn",
		"puma", "passenger", "httpd",
	},
	"messaging": {
		"kafka", "rabbit", "nats", "pulsar", "zeromq", "activemq",
		"mosquitto", "emqx", "redis-mq", "nsq", "celery", "sidekiq",
		"resque", "bull", "bee",
	},
	"monitoring": {
		"prometheus", "grafana", "datadog", "nagios", "zabbix", "influx",
		"telegraf", "jaeger", "zipkin", "sentry", "newrelic", "splunk",
		"logstash", "kibana", "fluentd",
	},
	"containers": {
		"docker", "podman", "containerd", "kubernetes", "nomad", "swarm",
		"rancher", "portainer", "harbor", "registry", "buildah", "skopeo",
		"crio", "runc", "lxc",
	},
}

// Themes returns all theme identifiers, sorted.
func Themes() []string {
	out := make([]string, 0, len(themes))
	for t := range themes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Names returns the ordered base-name catalog for a theme.
func Names(theme string) ([]string, bool) {
	catalog, ok := themes[theme]
	if !ok {
		return nil, false
	}
	out := make([]string, len(catalog))
	copy(out, catalog)
	return out, true
}

// Preview returns up to n base names from a theme's catalog.
func Preview(theme string, n int) []string {
	catalog, ok := themes[theme]
	if !ok {
		return nil
	}
	if n > len(catalog) {
		n = len(catalog)
	}
	out := make([]string, n)
	copy(out, catalog[:n])
	return out
}

// Random picks a theme identifier at random.
func Random() string {
	all := Themes()
	return all[rand.Intn(len(all))]
}

// Generate produces count unique VM names for a theme. Each name is a
// catalog entry with a zero-padded running sequence suffix starting at 01;
// when count exceeds the catalog, the catalog cycles while the sequence
// keeps incrementing, so names stay unique across the wrap.
func Generate(theme string, count int) ([]string, error) {
	catalog, ok := themes[theme]
	if !ok {
		return nil, fmt.Errorf("unknown theme %q", theme)
	}
	return generateFrom(catalog, count), nil
}

func generateFrom(catalog []string, count int) []string {
	names := make([]string, count)
	for i := 0; i < count; i++ {
		names[i] = fmt.Sprintf("%s-%02d", catalog[i%len(catalog)], i+1)
	}
	return names
}
