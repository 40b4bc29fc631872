package clients

import "testing"

func TestInferGender(t *testing.T) {
	cases := []struct {
		name string
		want Gender
	}{
		{"Maria Lopez", GenderFemale},
		{"Carlos Ruiz", GenderMale},
		{"  maría  josé", GenderFemale},
		{"Jesús Martín", GenderMale},
		{"Alberto Gil", GenderMale},
		{"Marta", GenderFemale},
		{"Ofelia Soto", GenderUnknown},
		{"Xyz", GenderUnknown},
		{"", GenderUnknown},
	}
	for _, tc := range cases {
		if got := InferGender(tc.name); got != tc.want {
			t.Errorf("InferGender(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
