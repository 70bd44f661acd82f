package stage

import "testing"

func TestResolveCountry(t *testing.T) {
	cases := []struct {
		prefix      string
		wantSub     string
		wantValid   bool
	}{
		{"E92000001", "GB-ENG", true},
		{"S92000003", "GB-SCT", true},
		{"W92000004", "GB-WLS", true},
		{"N92000002", "GB-NIR", true},
		{"L93000001", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		iso2, iso3, sub := resolveCountry(c.prefix)
		if iso2 != "GB" || iso3 != "GBR" {
			t.Errorf("resolveCountry(%q) iso = %s/%s, want GB/GBR", c.prefix, iso2, iso3)
		}
		if sub.Valid != c.wantValid || (c.wantValid && sub.String != c.wantSub) {
			t.Errorf("resolveCountry(%q) subdivision = %+v, want %q valid=%v", c.prefix, sub, c.wantSub, c.wantValid)
		}
	}
}

func TestClassifyLIDSPair_HeuristicTOID(t *testing.T) {
	toid, usrn, _, ok := classifyLIDSPair("OSGB1000002148564302", "10000001", "")
	if !ok || toid != "OSGB1000002148564302" || usrn != 10000001 {
		t.Fatalf("classifyLIDSPair toid/usrn heuristic = (%q, %d, ok=%v)", toid, usrn, ok)
	}
}

func TestClassifyLIDSPair_HeuristicUPRN(t *testing.T) {
	_, usrn, uprn, ok := classifyLIDSPair("100023336956", "10000002", "")
	if !ok || uprn != 100023336956 || usrn != 10000002 {
		t.Fatalf("classifyLIDSPair uprn/usrn heuristic = (uprn=%d usrn=%d ok=%v)", uprn, usrn, ok)
	}
}

func TestClassifyLIDSPair_ExplicitRelation(t *testing.T) {
	toid, usrn, _, ok := classifyLIDSPair("OSGB123", "10000001", "toid_usrn")
	if !ok || toid != "OSGB123" || usrn != 10000001 {
		t.Fatalf("classifyLIDSPair explicit relation = (%q, %d, ok=%v)", toid, usrn, ok)
	}
}

func TestClassifyLIDSPair_Unclassifiable(t *testing.T) {
	_, _, _, ok := classifyLIDSPair("ABC", "DEF", "")
	if ok {
		t.Fatal("expected unclassifiable pair to return ok=false")
	}
}

func TestAsIntRoundsFloat(t *testing.T) {
	n, ok := asInt(123456.6)
	if !ok || n != 123457 {
		t.Fatalf("asInt(123456.6) = %d, %v", n, ok)
	}
}

func TestRound6(t *testing.T) {
	got := round6(51.500123456)
	if got != 51.500123 {
		t.Fatalf("round6 = %v", got)
	}
}
