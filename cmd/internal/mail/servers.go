package mail

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// ServerList is the YAML relay configuration:
//
//	from: "estate <no-reply@estate.example>"
//	replyTo: ["support@estate.example"]
//	servers:
//	  - host: smtp.example.com
//	    port: "587"
//	    connections: 4
//	    sendTimeout: 10
//	    auth: {user: estate, password: secret}
type ServerList struct {
	Servers []Server `yaml:"servers"`
	From    string   `yaml:"from"`
	Sender  string   `yaml:"sender"`
	ReplyTo []string `yaml:"replyTo"`
}

type Server struct {
	Host               string `yaml:"host"`
	Port               string `yaml:"port"`
	Connections        int    `yaml:"connections"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	Auth               struct {
		Username string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"auth"`
	// SendTimeout is in seconds.
	SendTimeout int `yaml:"sendTimeout"`
}

func (s Server) Address() string { return net.JoinHostPort(s.Host, s.Port) }

// ParseServerList decodes and validates a relay list. Unknown keys are an
// error.
func ParseServerList(data []byte) (ServerList, error) {
	var sl ServerList
	if err := yaml.UnmarshalStrict(data, &sl); err != nil {
		return ServerList{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := sl.validate(); err != nil {
		return ServerList{}, err
	}
	return sl, nil
}

// ReadServerList reads the file named by path.
func ReadServerList(path string) (ServerList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServerList{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return ParseServerList(data)
}

func (sl *ServerList) validate() error {
	if len(sl.Servers) == 0 {
		return fmt.Errorf("%w: no servers defined", ErrConfig)
	}
	if strings.TrimSpace(sl.From) == "" {
		return fmt.Errorf("%w: from is required", ErrConfig)
	}
	for i := range sl.Servers {
		s := &sl.Servers[i]
		if strings.TrimSpace(s.Host) == "" {
			return fmt.Errorf("%w: server %d: host is required", ErrConfig, i)
		}
		if p, err := strconv.Atoi(s.Port); err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("%w: server %s: bad port %q", ErrConfig, s.Host, s.Port)
		}
		if s.Connections <= 0 {
			s.Connections = 1
		}
		if s.SendTimeout <= 0 {
			s.SendTimeout = 10
		}
	}
	return nil
}
