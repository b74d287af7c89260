package protocol

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// ProfileDescriptor points at a downloadable profile file.
type ProfileDescriptor struct {
	URL      string `json:"url"`
	MD5      string `json:"md5,omitempty" validate:"omitempty,len=32,hexadecimal"`
	CRC32    string `json:"crc32,omitempty" validate:"omitempty,max=8,hexadecimal"`
	FileSize int64  `json:"fileSize,omitempty" validate:"gte=0"`
}

// SourceDescriptor identifies the provisioning back end that issued a response.
type SourceDescriptor struct {
	Type string `json:"type"`
	Host string `json:"host"`
}

// RPSData is the data member of a source or device profile response.
type RPSData struct {
	Profiles []ProfileDescriptor `validate:"dive"`
	Source   SourceDescriptor
}

// RPSResponse is the typed result of the source and device profile flows.
// Data is nil when the envelope carried no data object.
type RPSResponse struct {
	Header ResponseHeader
	Data   *RPSData
}

// FirstProfile returns the first profile descriptor, if any.
func (r *RPSResponse) FirstProfile() (ProfileDescriptor, bool) {
	if r == nil || r.Data == nil || len(r.Data.Profiles) == 0 {
		return ProfileDescriptor{}, false
	}
	return r.Data.Profiles[0], true
}

// ParseRPSResponse maps a provisioning envelope to an RPSResponse. A data object
// without a complete source is a format error; profiles without url are kept empty.
func ParseRPSResponse(body []byte) (*RPSResponse, error) {
	header, data, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}

	resp := &RPSResponse{Header: header}
	if data == nil {
		return resp, nil
	}

	rps := &RPSData{}
	if items, ok := data.array("profiles"); ok {
		rps.Profiles = make([]ProfileDescriptor, len(items))
		for i, item := range items {
			p, ok := decodeObject(item)
			if !ok {
				continue
			}
			url, ok := p.str("url")
			if !ok {
				continue
			}
			size, _ := p.integer("fileSize")
			rps.Profiles[i] = ProfileDescriptor{
				URL:      url,
				MD5:      p.strOr("md5"),
				CRC32:    p.strOr("crc32"),
				FileSize: size,
			}
		}
	}

	source, ok := data.obj("source")
	if !ok {
		return nil, fmt.Errorf("%w: missing source", ErrFormat)
	}
	if rps.Source.Type, ok = source.str("type"); !ok {
		return nil, fmt.Errorf("%w: missing source type", ErrFormat)
	}
	if rps.Source.Host, ok = source.str("host"); !ok {
		return nil, fmt.Errorf("%w: missing source host", ErrFormat)
	}

	if err := structValidator.Struct(rps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	resp.Data = rps
	return resp, nil
}

// Network server kinds, matched case-insensitively against the response type.
const (
	KindSemtech      = "Semtech"
	KindBasicStation = "BasicStation"
	KindChirpstack   = "Chirpstack"
)

// NetworkServer is one of *SemtechServer, *BasicStationServer or *ChirpstackServer.
type NetworkServer interface {
	Kind() string
	isNetworkServer()
}

// SemtechServer is a packet-forwarder target. It needs no downloads.
type SemtechServer struct {
	Addr     string
	UpPort   int `validate:"gte=0,lte=65535"`
	DownPort int `validate:"gte=0,lte=65535"`
}

// BasicStationServer carries the CUPS and LNS endpoints and their TLS material URLs.
type BasicStationServer struct {
	CupsURI      string
	CupsTrustURL string
	CupsCertURL  string
	CupsKeyURL   string
	LNSURI       string
	LNSTrustURL  string
	LNSCertURL   string
	LNSKeyURL    string
}

// ChirpstackServer is an MQTT integration endpoint.
type ChirpstackServer struct {
	Addr          string
	Port          int    `validate:"gte=0,lte=65535"`
	User          string `validate:"max=63"`
	Pass          string `validate:"max=63"`
	CertURL       string
	PrivateKeyURL string
	CACertURL     string
}

func (*SemtechServer) Kind() string      { return KindSemtech }
func (*BasicStationServer) Kind() string { return KindBasicStation }
func (*ChirpstackServer) Kind() string   { return KindChirpstack }

func (*SemtechServer) isNetworkServer()      {}
func (*BasicStationServer) isNetworkServer() {}
func (*ChirpstackServer) isNetworkServer()   {}

// LNSResponse is the typed result of the LNS profile flow. Server is nil when the
// envelope carried no data object.
type LNSResponse struct {
	Header ResponseHeader
	Server NetworkServer
}

// ParseLNSResponse maps an LNS envelope, selecting the variant by the type member.
// Unknown types are a format error.
func ParseLNSResponse(body []byte) (*LNSResponse, error) {
	header, data, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}

	resp := &LNSResponse{Header: header}
	if data == nil {
		return resp, nil
	}

	kind, ok := data.str("type")
	if !ok {
		return nil, fmt.Errorf("%w: missing network server type", ErrFormat)
	}

	switch {
	case strings.EqualFold(kind, KindSemtech):
		ns, ok := data.obj("semtech")
		if !ok {
			return nil, fmt.Errorf("%w: missing semtech", ErrFormat)
		}
		addr, okAddr := ns.str("serverAddress")
		up, okUp := ns.integer("portUp")
		down, okDown := ns.integer("portDown")
		if !okAddr || !okUp || !okDown {
			return nil, fmt.Errorf("%w: incomplete semtech config", ErrFormat)
		}
		resp.Server = &SemtechServer{Addr: addr, UpPort: int(up), DownPort: int(down)}

	case strings.EqualFold(kind, KindBasicStation):
		ns, ok := data.obj("basicStation")
		if !ok {
			return nil, fmt.Errorf("%w: missing basicStation", ErrFormat)
		}
		resp.Server = &BasicStationServer{
			CupsURI:      ns.strOr("cupsUri"),
			CupsTrustURL: ns.strOr("cupsCaTrustUrl"),
			CupsCertURL:  ns.strOr("cupsClientCertPemUrl"),
			CupsKeyURL:   ns.strOr("cupsClientKeyUrl"),
			LNSURI:       ns.strOr("lnsUri"),
			LNSTrustURL:  ns.strOr("lnsCaTrustUrl"),
			LNSCertURL:   ns.strOr("lnsClientCertPemUrl"),
			LNSKeyURL:    ns.strOr("lnsClientKeyUrl"),
		}

	case strings.EqualFold(kind, KindChirpstack):
		ns, ok := data.obj("chirpstack")
		if !ok {
			return nil, fmt.Errorf("%w: missing chirpstack", ErrFormat)
		}
		addr, okAddr := ns.str("mqttBroker")
		port, okPort := ns.integer("mqttPort")
		if !okAddr || !okPort {
			return nil, fmt.Errorf("%w: incomplete chirpstack config", ErrFormat)
		}
		resp.Server = &ChirpstackServer{
			Addr:          addr,
			Port:          int(port),
			User:          ns.strOr("username"),
			Pass:          ns.strOr("password"),
			CertURL:       ns.strOr("certPemUrl"),
			PrivateKeyURL: ns.strOr("privateKeyUrl"),
			CACertURL:     ns.strOr("caCertPemUrl"),
		}

	default:
		return nil, fmt.Errorf("%w: unknown network server type %q", ErrFormat, kind)
	}

	if err := structValidator.Struct(resp.Server); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return resp, nil
}

// DmCredentials is the broker bundle for the device-management MQTT session.
type DmCredentials struct {
	Addr          string `validate:"required"`
	Port          int    `validate:"gte=0,lte=65535"`
	User          string `validate:"max=63"`
	Pass          string `validate:"max=63"`
	CertURL       string
	PrivateKeyURL string
	CACertURL     string
}

// DMResponse is the typed result of the DM profile flow. Credentials is nil when the
// envelope carried no data object.
type DMResponse struct {
	Header      ResponseHeader
	Credentials *DmCredentials
}

// ParseDMResponse maps a DM profile envelope. mqttBroker and mqttPort are mandatory
// when data is present.
func ParseDMResponse(body []byte) (*DMResponse, error) {
	header, data, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}

	resp := &DMResponse{Header: header}
	if data == nil {
		return resp, nil
	}

	addr, okAddr := data.str("mqttBroker")
	port, okPort := data.integer("mqttPort")
	if !okAddr || !okPort {
		return nil, fmt.Errorf("%w: incomplete dm config", ErrFormat)
	}

	creds := &DmCredentials{
		Addr:          addr,
		Port:          int(port),
		User:          data.strOr("username"),
		Pass:          data.strOr("password"),
		CertURL:       data.strOr("certPemUrl"),
		PrivateKeyURL: data.strOr("privateKeyUrl"),
		CACertURL:     data.strOr("caCertPemUrl"),
	}
	if err := structValidator.Struct(creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	resp.Credentials = creds
	return resp, nil
}
