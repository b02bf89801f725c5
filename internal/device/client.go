package device

import "fmt"

// ClientType is a game server/distribution variant. The zero value means
// the variant is not known yet.
type ClientType string

const (
	Official ClientType = "Official"
	Bilibili ClientType = "Bilibili"
	YoStarEN ClientType = "YoStarEN"
	YoStarJP ClientType = "YoStarJP"
	YoStarKR ClientType = "YoStarKR"
	Txwy     ClientType = "txwy"
)

var packageNames = map[ClientType]string{
	Official: "com.hypergryph.arknights",
	Bilibili: "com.hypergryph.arknights.bilibili",
	YoStarEN: "com.YoStarEN.Arknights",
	YoStarJP: "com.YoStarJP.arknights",
	YoStarKR: "com.YoStarKR.Arknights",
	Txwy:     "tw.txwy.and.arknights",
}

// ClientTypes lists every known variant.
func ClientTypes() []ClientType {
	return []ClientType{Official, Bilibili, YoStarEN, YoStarJP, YoStarKR, Txwy}
}

// ParseClientType accepts the empty string as unknown.
func ParseClientType(s string) (ClientType, error) {
	if s == "" {
		return "", nil
	}
	ct := ClientType(s)
	if _, ok := packageNames[ct]; !ok {
		return "", fmt.Errorf("unknown client type %q", s)
	}
	return ct, nil
}

// PackageName is the Android package of the variant. Unknown variants map
// to the official package.
func (c ClientType) PackageName() string {
	if name, ok := packageNames[c]; ok {
		return name
	}
	return packageNames[Official]
}

// UsesCache reports whether the variant loads its incremental resources
// from the engine cache rather than a global resource directory.
func (c ClientType) UsesCache() bool {
	return c == "" || c == Official || c == Bilibili
}

func (c ClientType) String() string {
	if c == "" {
		return "None"
	}
	return string(c)
}
