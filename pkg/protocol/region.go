package protocol

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
)

const (
	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 180.0

	// coordinates travel as 1/10 micro degrees
	coordScale = 1e7
)

var ErrInvalidBoundingBox = errors.New("invalid bounding box")

// ConnectionPoint tells the responder where to send its reply.
// A zero Address means "the address the request came from".
type ConnectionPoint struct {
	Address netip.Addr
	Port    uint16
}

// HasAddress reports whether an explicit reply address is present
func (c *ConnectionPoint) HasAddress() bool {
	return c.Address.IsValid()
}

func (c *ConnectionPoint) String() string {
	if !c.HasAddress() {
		return fmt.Sprintf(":%d", c.Port)
	}
	return netip.AddrPortFrom(c.Address, c.Port).String()
}

func (c *ConnectionPoint) encode(w *writer) {
	w.bool(c.HasAddress())
	if c.HasAddress() {
		addr := c.Address.Unmap()
		if addr.Is4() {
			a := addr.As4()
			w.u8(4)
			w.buf = append(w.buf, a[:]...)
		} else {
			a := addr.As16()
			w.u8(6)
			w.buf = append(w.buf, a[:]...)
		}
	}
	w.u16(c.Port)
}

func (c *ConnectionPoint) decode(r *reader) {
	if r.bool("connection point address flag") {
		switch family := r.u8("connection point family"); family {
		case 4:
			b := r.raw(4, "connection point ipv4 address")
			if r.err == nil {
				c.Address = netip.AddrFrom4([4]byte(b))
			}
		case 6:
			b := r.raw(16, "connection point ipv6 address")
			if r.err == nil {
				c.Address = netip.AddrFrom16([16]byte(b))
			}
		default:
			if r.err == nil {
				r.err = fmt.Errorf("%w: unknown address family %d", ErrDecodeFailed, family)
			}
		}
	}
	c.Port = r.u16("connection point port")
}

// Position is a WGS-84 latitude/longitude pair in degrees
type Position struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// GeoRegion is a bounding box given by its north-west and south-east corners
type GeoRegion struct {
	NW Position `json:"nw" yaml:"nw"`
	SE Position `json:"se" yaml:"se"`
}

// NewGeoRegion creates a validated region
func NewGeoRegion(nwLat, nwLon, seLat, seLon float64) (*GeoRegion, error) {
	g := &GeoRegion{NW: Position{nwLat, nwLon}, SE: Position{seLat, seLon}}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks coordinate ranges and corner ordering
func (g *GeoRegion) Validate() error {
	for _, p := range []Position{g.NW, g.SE} {
		if p.Lat < MinLat || p.Lat > MaxLat {
			return fmt.Errorf("%w: latitude %v out of range", ErrInvalidBoundingBox, p.Lat)
		}
		if p.Lon < MinLon || p.Lon > MaxLon {
			return fmt.Errorf("%w: longitude %v out of range", ErrInvalidBoundingBox, p.Lon)
		}
	}
	if g.NW.Lat < g.SE.Lat {
		return fmt.Errorf("%w: north-west latitude below south-east latitude", ErrInvalidBoundingBox)
	}
	if g.NW.Lon > g.SE.Lon {
		return fmt.Errorf("%w: north-west longitude east of south-east longitude", ErrInvalidBoundingBox)
	}
	return nil
}

// Contains reports whether the point lies inside the region (edges included)
func (g *GeoRegion) Contains(lat, lon float64) bool {
	return lat <= g.NW.Lat && lat >= g.SE.Lat && lon >= g.NW.Lon && lon <= g.SE.Lon
}

func (g *GeoRegion) String() string {
	return fmt.Sprintf("nw-lat=%v,nw-lon=%v,se-lat=%v,se-lon=%v", g.NW.Lat, g.NW.Lon, g.SE.Lat, g.SE.Lon)
}

func (g *GeoRegion) encode(w *writer) {
	for _, v := range []float64{g.NW.Lat, g.NW.Lon, g.SE.Lat, g.SE.Lon} {
		w.u32(uint32(int32(math.Round(v * coordScale))))
	}
}

func (g *GeoRegion) decode(r *reader) {
	g.NW.Lat = float64(int32(r.u32("nw latitude"))) / coordScale
	g.NW.Lon = float64(int32(r.u32("nw longitude"))) / coordScale
	g.SE.Lat = float64(int32(r.u32("se latitude"))) / coordScale
	g.SE.Lon = float64(int32(r.u32("se longitude"))) / coordScale
}
