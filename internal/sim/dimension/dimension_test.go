package dimension

import "testing"

func TestNormalize(t *testing.T) {
	for in, want := range map[string]ID{
		"overworld":           Overworld,
		"  the_nether ":       Nether,
		"minecraft:the_end":   End,
		"mwp:survival_nether": "mwp:survival_nether",
		"":                    "",
		"   ":                 "",
	} {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGuessKind(t *testing.T) {
	for id, want := range map[ID]Kind{
		Overworld:             KindOverworld,
		Nether:                KindNether,
		End:                   KindEnd,
		"mwp:survival_nether": KindNether,
		"mwp:survival_end":    KindEnd,
		"multiverse:spawn":    KindFlat,
		"mwp:Lobby":           KindFlat,
		"mwp:creative":        KindOverworld,
	} {
		if got := GuessKind(id); got != want {
			t.Fatalf("GuessKind(%s) = %s, want %s", id, got, want)
		}
	}
}

func TestIDParts(t *testing.T) {
	id := ID("mwp:survival")
	if id.Namespace() != "mwp" || id.Path() != "survival" {
		t.Fatalf("parts = %q %q", id.Namespace(), id.Path())
	}
	bare := ID("survival")
	if bare.Namespace() != "minecraft" || bare.Path() != "survival" {
		t.Fatalf("bare parts = %q %q", bare.Namespace(), bare.Path())
	}
}

func TestBounds(t *testing.T) {
	b, ok := VanillaBounds(Overworld)
	if !ok || b.MinY != -64 || b.MaxY() != 320 {
		t.Fatalf("overworld bounds = %+v %v", b, ok)
	}
	if _, ok := VanillaBounds("mwp:creative"); ok {
		t.Fatalf("custom dimension has vanilla bounds")
	}
	if nb := BoundsForKind(KindNether); nb.MinY != 0 || nb.MaxY() != 256 {
		t.Fatalf("nether bounds = %+v", nb)
	}
}
