package descriptor

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vidstore/internal/model"
)

const (
	DefaultService       = "postgres"
	DefaultImage         = "pgvector/pgvector:pg15"
	DefaultContainerName = "video_retrieval_postgres"
	DefaultDatabase      = "videodb_creative_v2"
	DefaultUser          = "postgres"
	DefaultPassword      = "admin"
	DefaultVolume        = "postgres_data"
	DataDir              = "/var/lib/postgresql/data"
	PostgresPort         = 5432

	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 10 * time.Second
	DefaultRetries  = 3
)

// Default returns the descriptor the datastore ships with.
func Default() model.Descriptor {
	return model.Descriptor{
		Service:       DefaultService,
		Image:         DefaultImage,
		ContainerName: DefaultContainerName,
		Database:      DefaultDatabase,
		User:          DefaultUser,
		Password:      DefaultPassword,
		Port:          model.PortMapping{HostPort: PostgresPort, ContainerPort: PostgresPort},
		Volume:        model.VolumeMapping{Name: DefaultVolume, Target: DataDir},
		Restart:       model.RestartUnlessStopped,
		HealthCheck:   defaultHealthCheck(DefaultUser, DefaultDatabase),
	}
}

func defaultHealthCheck(user, db string) model.HealthCheck {
	return model.HealthCheck{
		Test:     []string{"CMD-SHELL", fmt.Sprintf("pg_isready -U %s -d %s", user, db)},
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
		Retries:  DefaultRetries,
	}
}

// Load reads a compose file and returns the descriptor for service. An empty
// path yields Default(). An empty service selects the only service defined.
func Load(path, service string, lookup LookupFunc) (model.Descriptor, error) {
	if strings.TrimSpace(path) == "" {
		d := Default()
		return d, Validate(d)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return model.Descriptor{}, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	return Parse(b, service, lookup)
}

func Parse(data []byte, service string, lookup LookupFunc) (model.Descriptor, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	expanded, err := interpolate(string(data), lookup)
	if err != nil {
		return model.Descriptor{}, &model.ConfigurationError{Reason: err.Error()}
	}

	var file composeFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return model.Descriptor{}, &model.ConfigurationError{Reason: fmt.Sprintf("parse descriptor yaml: %v", err)}
	}

	name, svc, err := file.pick(service)
	if err != nil {
		return model.Descriptor{}, err
	}

	d, err := svc.toDescriptor(name, file.Volumes, lookup)
	if err != nil {
		return model.Descriptor{}, err
	}
	return d, Validate(d)
}

// Validate checks that d can be provisioned.
func Validate(d model.Descriptor) error {
	var missing []string
	if strings.TrimSpace(d.Database) == "" {
		missing = append(missing, "POSTGRES_DB")
	}
	if strings.TrimSpace(d.User) == "" {
		missing = append(missing, "POSTGRES_USER")
	}
	if d.Password == "" {
		missing = append(missing, "POSTGRES_PASSWORD")
	}
	if len(missing) > 0 {
		return &model.ConfigurationError{Fields: missing, Reason: "required environment values are missing"}
	}

	var invalid []string
	if strings.TrimSpace(d.Image) == "" {
		invalid = append(invalid, "image")
	}
	if strings.TrimSpace(d.ContainerName) == "" {
		invalid = append(invalid, "container_name")
	}
	if d.Port.HostPort < 1 || d.Port.HostPort > 65535 || d.Port.ContainerPort < 1 || d.Port.ContainerPort > 65535 {
		invalid = append(invalid, "ports")
	}
	if d.Volume.Name == "" || !strings.HasPrefix(d.Volume.Target, "/") {
		invalid = append(invalid, "volumes")
	}
	if !d.Restart.Valid() {
		invalid = append(invalid, "restart")
	}
	hc := d.HealthCheck
	if len(hc.Test) == 0 || hc.Interval <= 0 || hc.Timeout <= 0 || hc.Retries < 1 {
		invalid = append(invalid, "healthcheck")
	}
	if len(invalid) > 0 {
		return &model.ConfigurationError{Fields: invalid, Reason: "invalid values"}
	}
	return nil
}

// Render writes d back out as a single-service compose file.
func Render(d model.Descriptor) ([]byte, error) {
	env := environment{
		"POSTGRES_DB":       &d.Database,
		"POSTGRES_USER":     &d.User,
		"POSTGRES_PASSWORD": &d.Password,
	}
	for k, v := range d.ExtraEnv {
		env[k] = &v
	}

	retries := d.HealthCheck.Retries
	hc := &composeHealth{
		Test:     command(d.HealthCheck.Test),
		Interval: d.HealthCheck.Interval.String(),
		Timeout:  d.HealthCheck.Timeout.String(),
		Retries:  &retries,
	}
	if d.HealthCheck.StartPeriod > 0 {
		hc.StartPeriod = d.HealthCheck.StartPeriod.String()
	}

	service := d.Service
	if service == "" {
		service = DefaultService
	}
	file := composeFile{
		Services: map[string]composeService{
			service: {
				Image:         d.Image,
				ContainerName: d.ContainerName,
				Environment:   env,
				Ports:         []string{d.Port.String()},
				Volumes:       []string{d.Volume.Name + ":" + d.Volume.Target},
				Restart:       string(d.Restart),
				Healthcheck:   hc,
			},
		},
		Volumes: map[string]*composeVolume{d.Volume.Name: {}},
	}

	out, err := yaml.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("render descriptor: %w", err)
	}
	return out, nil
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]*composeVolume `yaml:"volumes,omitempty"`
}

type composeVolume struct {
	Name     string `yaml:"name,omitempty"`
	External bool   `yaml:"external,omitempty"`
}

type composeService struct {
	Image         string         `yaml:"image"`
	ContainerName string         `yaml:"container_name,omitempty"`
	Environment   environment    `yaml:"environment,omitempty"`
	Ports         []string       `yaml:"ports,omitempty"`
	Volumes       []string       `yaml:"volumes,omitempty"`
	Restart       string         `yaml:"restart,omitempty"`
	Healthcheck   *composeHealth `yaml:"healthcheck,omitempty"`
}

type composeHealth struct {
	Test        command `yaml:"test,omitempty"`
	Interval    string  `yaml:"interval,omitempty"`
	Timeout     string  `yaml:"timeout,omitempty"`
	StartPeriod string  `yaml:"start_period,omitempty"`
	Retries     *int    `yaml:"retries,omitempty"`
	Disable     bool    `yaml:"disable,omitempty"`
}

func (f composeFile) pick(service string) (string, composeService, error) {
	if len(f.Services) == 0 {
		return "", composeService{}, &model.ConfigurationError{Fields: []string{"services"}, Reason: "no services defined"}
	}
	if service != "" {
		svc, ok := f.Services[service]
		if !ok {
			return "", composeService{}, &model.ConfigurationError{Fields: []string{"services." + service}, Reason: "service not defined"}
		}
		return service, svc, nil
	}
	if len(f.Services) == 1 {
		for name, svc := range f.Services {
			return name, svc, nil
		}
	}

	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return "", composeService{}, &model.ConfigurationError{
		Fields: []string{"services"},
		Reason: fmt.Sprintf("multiple services defined (%s); select one", strings.Join(names, ", ")),
	}
}

func (s composeService) toDescriptor(name string, declared map[string]*composeVolume, lookup LookupFunc) (model.Descriptor, error) {
	d := model.Descriptor{
		Service:       name,
		Image:         s.Image,
		ContainerName: s.ContainerName,
		Restart:       model.RestartPolicy(s.Restart),
	}
	if d.ContainerName == "" {
		d.ContainerName = name
	}
	if d.Restart == "" {
		d.Restart = model.RestartNo
	}

	extra := map[string]string{}
	for k, v := range s.Environment.resolve(lookup) {
		switch k {
		case "POSTGRES_DB":
			d.Database = v
		case "POSTGRES_USER":
			d.User = v
		case "POSTGRES_PASSWORD":
			d.Password = v
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		d.ExtraEnv = extra
	}

	port, err := parsePorts(s.Ports)
	if err != nil {
		return model.Descriptor{}, err
	}
	d.Port = port

	vol, err := parseVolumes(s.Volumes, declared)
	if err != nil {
		return model.Descriptor{}, err
	}
	d.Volume = vol

	hc, err := s.healthCheck(d.User, d.Database)
	if err != nil {
		return model.Descriptor{}, err
	}
	d.HealthCheck = hc

	return d, nil
}

func (s composeService) healthCheck(user, db string) (model.HealthCheck, error) {
	hc := defaultHealthCheck(user, db)
	if s.Healthcheck == nil {
		return hc, nil
	}
	if s.Healthcheck.Disable || (len(s.Healthcheck.Test) > 0 && s.Healthcheck.Test[0] == "NONE") {
		return model.HealthCheck{}, &model.ConfigurationError{Fields: []string{"healthcheck"}, Reason: "a readiness probe is required"}
	}

	if len(s.Healthcheck.Test) > 0 {
		hc.Test = []string(s.Healthcheck.Test)
	}
	for _, f := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{s.Healthcheck.Interval, &hc.Interval, "healthcheck.interval"},
		{s.Healthcheck.Timeout, &hc.Timeout, "healthcheck.timeout"},
		{s.Healthcheck.StartPeriod, &hc.StartPeriod, "healthcheck.start_period"},
	} {
		if f.raw == "" {
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return model.HealthCheck{}, &model.ConfigurationError{Fields: []string{f.name}, Reason: err.Error()}
		}
		*f.dst = v
	}
	if s.Healthcheck.Retries != nil {
		hc.Retries = *s.Healthcheck.Retries
	}
	return hc, nil
}

func parsePorts(ports []string) (model.PortMapping, error) {
	if len(ports) == 0 {
		return model.PortMapping{}, &model.ConfigurationError{Fields: []string{"ports"}, Reason: "a host port mapping is required"}
	}

	var mappings []model.PortMapping
	for _, raw := range ports {
		m, err := parsePort(raw)
		if err != nil {
			return model.PortMapping{}, err
		}
		mappings = append(mappings, m)
	}
	for _, m := range mappings {
		if m.ContainerPort == PostgresPort {
			return m, nil
		}
	}
	return mappings[0], nil
}

func parsePort(raw string) (model.PortMapping, error) {
	spec := strings.TrimSpace(raw)
	if i := strings.IndexByte(spec, '/'); i >= 0 {
		if proto := spec[i+1:]; proto != "tcp" {
			return model.PortMapping{}, &model.ConfigurationError{Fields: []string{"ports"}, Reason: fmt.Sprintf("unsupported protocol %q", proto)}
		}
		spec = spec[:i]
	}

	var hostIP, hostPort, containerPort string
	if i := strings.LastIndexByte(spec, ':'); i >= 0 {
		containerPort = spec[i+1:]
		hostPart := spec[:i]
		if j := strings.LastIndexByte(hostPart, ':'); j >= 0 {
			hostIP = strings.Trim(hostPart[:j], "[]")
			hostPort = hostPart[j+1:]
		} else {
			hostPort = hostPart
		}
	} else {
		return model.PortMapping{}, &model.ConfigurationError{Fields: []string{"ports"}, Reason: fmt.Sprintf("%q has no fixed host port", raw)}
	}

	hp, err := strconv.Atoi(hostPort)
	if err != nil {
		return model.PortMapping{}, &model.ConfigurationError{Fields: []string{"ports"}, Reason: fmt.Sprintf("invalid host port in %q", raw)}
	}
	cp, err := strconv.Atoi(containerPort)
	if err != nil {
		return model.PortMapping{}, &model.ConfigurationError{Fields: []string{"ports"}, Reason: fmt.Sprintf("invalid container port in %q", raw)}
	}
	return model.PortMapping{HostIP: hostIP, HostPort: hp, ContainerPort: cp}, nil
}

func parseVolumes(volumes []string, declared map[string]*composeVolume) (model.VolumeMapping, error) {
	for _, raw := range volumes {
		parts := strings.Split(raw, ":")
		if len(parts) < 2 {
			continue
		}
		source, target := parts[0], parts[1]
		if target != DataDir && len(volumes) > 1 {
			continue
		}
		if strings.HasPrefix(source, "/") || strings.HasPrefix(source, ".") || strings.HasPrefix(source, "~") {
			return model.VolumeMapping{}, &model.ConfigurationError{Fields: []string{"volumes"}, Reason: "bind mounts are not supported; use a named volume"}
		}

		name := source
		if declared != nil {
			v, ok := declared[source]
			if !ok {
				return model.VolumeMapping{}, &model.ConfigurationError{Fields: []string{"volumes." + source}, Reason: "named volume is not declared"}
			}
			if v != nil && v.Name != "" {
				name = v.Name
			}
		}
		return model.VolumeMapping{Name: name, Target: target}, nil
	}
	return model.VolumeMapping{}, &model.ConfigurationError{Fields: []string{"volumes"}, Reason: "a named data volume is required"}
}

// environment accepts both the mapping and the KEY=VALUE list forms. A nil
// value is a bare key or a null, taken from the host environment.
type environment map[string]*string

func (e *environment) UnmarshalYAML(node *yaml.Node) error {
	out := environment{}
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if v.Tag == "!!null" {
				out[k.Value] = nil
				continue
			}
			value := v.Value
			out[k.Value] = &value
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			k, v, ok := strings.Cut(item.Value, "=")
			if !ok {
				out[k] = nil
				continue
			}
			out[k] = &v
		}
	default:
		return fmt.Errorf("environment must be a mapping or a list")
	}
	*e = out
	return nil
}

// resolve fills bare keys from lookup. Keys lookup does not know are dropped.
func (e environment) resolve(lookup LookupFunc) map[string]string {
	out := make(map[string]string, len(e))
	for k, v := range e {
		if v != nil {
			out[k] = *v
			continue
		}
		if value, ok := lookup(k); ok {
			out[k] = value
		}
	}
	return out
}

// command accepts a string (shell form) or a list.
type command []string

func (c *command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			*c = nil
			return nil
		}
		*c = command{"CMD-SHELL", node.Value}
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*c = items
	default:
		return fmt.Errorf("healthcheck test must be a string or a list")
	}
	return nil
}
