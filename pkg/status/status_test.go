package status

import "testing"

func TestStringKnownCodes(t *testing.T) {
	cases := map[Code]string{
		Success:      "Success",
		Invoked:      "Invoked",
		NotFound:     "Not Found",
		Failure:      "Failure",
		BadParameter: "Bad Parameter",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("Code(%d).String() = %q, want %q", code, got, want)
		}
	}
}

func TestStringUnknownCode(t *testing.T) {
	if got := Code(999).String(); got != "Unknown" {
		t.Errorf("Code(999).String() = %q, want Unknown", got)
	}
}

func TestValid(t *testing.T) {
	if !Success.Valid() {
		t.Error("Success should be valid")
	}
	if !Failure.Valid() {
		t.Error("Failure should be valid")
	}
	if Code(-1).Valid() {
		t.Error("Code(-1) should not be valid")
	}
	if Code(999).Valid() {
		t.Error("Code(999) should not be valid")
	}
}

func TestTranslateCloudErrorFileNotFound(t *testing.T) {
	if got := TranslateCloudError([]int{-90008}); got != NotFound {
		t.Errorf("TranslateCloudError(-90008) = %v, want NotFound", got)
	}
}

func TestTranslateCloudErrorGeneric(t *testing.T) {
	if got := TranslateCloudError([]int{-1}); got != Failure {
		t.Errorf("TranslateCloudError(-1) = %v, want Failure", got)
	}
	if got := TranslateCloudError(nil); got != Failure {
		t.Errorf("TranslateCloudError(nil) = %v, want Failure", got)
	}
}

func TestToCloudErrorCode(t *testing.T) {
	if got := ToCloudErrorCode(Success); got != 0 {
		t.Errorf("ToCloudErrorCode(Success) = %d, want 0", got)
	}
	if got := ToCloudErrorCode(NotFound); got != int(NotFound) {
		t.Errorf("ToCloudErrorCode(NotFound) = %d, want %d", got, int(NotFound))
	}
}
