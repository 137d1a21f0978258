package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

func (p RestartPolicy) Valid() bool {
	switch p {
	case RestartNo, RestartAlways, RestartOnFailure, RestartUnlessStopped:
		return true
	}
	return false
}

// ShouldRestart reports whether a failed instance is relaunched. An operator
// stop only suppresses unless-stopped; "no" never restarts.
func (p RestartPolicy) ShouldRestart(stoppedByOperator bool) bool {
	switch p {
	case RestartAlways, RestartOnFailure:
		return true
	case RestartUnlessStopped:
		return !stoppedByOperator
	}
	return false
}

type PortMapping struct {
	HostIP        string `json:"host_ip,omitempty"`
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
}

func (p PortMapping) String() string {
	if p.HostIP != "" {
		return fmt.Sprintf("%s:%d:%d", p.HostIP, p.HostPort, p.ContainerPort)
	}
	return fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort)
}

type VolumeMapping struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

type HealthCheck struct {
	Test        []string      `json:"test"`
	Interval    time.Duration `json:"interval"`
	Timeout     time.Duration `json:"timeout"`
	StartPeriod time.Duration `json:"start_period,omitempty"`
	Retries     int           `json:"retries"`
}

// Descriptor is the desired state of the single database instance.
type Descriptor struct {
	Service       string            `json:"service"`
	Image         string            `json:"image"`
	ContainerName string            `json:"container_name"`
	Database      string            `json:"database"`
	User          string            `json:"user"`
	Password      string            `json:"-"`
	ExtraEnv      map[string]string `json:"extra_env,omitempty"`
	Port          PortMapping       `json:"port"`
	Volume        VolumeMapping     `json:"volume"`
	Restart       RestartPolicy     `json:"restart"`
	HealthCheck   HealthCheck       `json:"healthcheck"`
}

func (d Descriptor) Env() []string {
	env := []string{
		"POSTGRES_DB=" + d.Database,
		"POSTGRES_USER=" + d.User,
		"POSTGRES_PASSWORD=" + d.Password,
	}
	keys := make([]string, 0, len(d.ExtraEnv))
	for k := range d.ExtraEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+d.ExtraEnv[k])
	}
	return env
}

// Hash digests every field that ends up in the container's configuration.
func (d Descriptor) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "image=%s\n", d.Image)
	fmt.Fprintf(h, "name=%s\n", d.ContainerName)
	for _, e := range d.Env() {
		fmt.Fprintf(h, "env=%s\n", e)
	}
	fmt.Fprintf(h, "port=%s\n", d.Port.String())
	fmt.Fprintf(h, "volume=%s:%s\n", d.Volume.Name, d.Volume.Target)
	fmt.Fprintf(h, "restart=%s\n", d.Restart)
	fmt.Fprintf(h, "health=%s|%s|%s|%s|%d\n",
		strings.Join(d.HealthCheck.Test, "\x00"),
		d.HealthCheck.Interval, d.HealthCheck.Timeout, d.HealthCheck.StartPeriod, d.HealthCheck.Retries)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

type Registry struct {
	Items []Instance `json:"items"`
}

type Instance struct {
	Name           string `json:"name"`
	Service        string `json:"service"`
	ContainerID    string `json:"container_id"`
	VolumeName     string `json:"volume_name"`
	Image          string `json:"image"`
	Host           string `json:"host"`
	HostPort       int    `json:"host_port"`
	DB             string `json:"db"`
	User           string `json:"user"`
	Password       string `json:"password"`
	DescriptorHash string `json:"descriptor_hash"`
	RestartPolicy  string `json:"restart_policy"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	Health         string `json:"health,omitempty"`
	RestartCount   int    `json:"restart_count"`
	Stopped        bool   `json:"stopped"`
	LastError      string `json:"last_error,omitempty"`
	LastMarker     string `json:"last_marker,omitempty"`
}

type ProvisionAction string

const (
	ActionCreated   ProvisionAction = "created"
	ActionStarted   ProvisionAction = "started"
	ActionRecreated ProvisionAction = "recreated"
	ActionUnchanged ProvisionAction = "unchanged"
)

type ProvisionResult struct {
	Name         string          `json:"name"`
	ContainerID  string          `json:"container_id"`
	VolumeName   string          `json:"volume_name"`
	VolumeReused bool            `json:"volume_reused"`
	ImagePulled  bool            `json:"image_pulled"`
	Action       ProvisionAction `json:"action"`
	Host         string          `json:"host"`
	Port         int             `json:"port"`
	DB           string          `json:"db"`
	User         string          `json:"user"`
	DatabaseURL  string          `json:"database_url"`
	CreatedAt    string          `json:"created_at"`
}

type StatusResponse struct {
	Items []StatusItem `json:"items"`
}

type StatusItem struct {
	Name          string `json:"name"`
	ContainerID   string `json:"container_id"`
	VolumeName    string `json:"volume_name"`
	Image         string `json:"image"`
	Host          string `json:"host"`
	HostPort      int    `json:"host_port"`
	DB            string `json:"db"`
	User          string `json:"user"`
	CreatedAt     string `json:"created_at"`
	RestartPolicy string `json:"restart_policy"`
	RestartCount  int    `json:"restart_count"`
	Stopped       bool   `json:"stopped"`
	Running       bool   `json:"running"`
	Health        string `json:"health"`
	RuntimeHealth string `json:"runtime_health,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	DatabaseURL   string `json:"database_url"`
}

// Redacted returns s with the password in DatabaseURL masked, for surfaces
// that other users can read.
func (s StatusItem) Redacted() StatusItem {
	if u, err := url.Parse(s.DatabaseURL); err == nil && u.User != nil {
		s.DatabaseURL = u.Redacted()
	}
	return s
}
