package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_NewFileFromScratch(t *testing.T) {
	diff := `--- /dev/null
+++ b/hello.txt
@@ -0,0 +1,2 @@
+line one
+line two
`
	files, err := ParseFiles(diff)
	require.NoError(t, err)
	require.Len(t, files, 1)

	out, err := Apply("", files[0])
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", out)
}

func TestApply_ModifiesMiddleOfExistingFile(t *testing.T) {
	original := "alpha\nbeta\ngamma\ndelta\n"
	diff := `--- a/f.txt
+++ b/f.txt
@@ -2,1 +2,2 @@
-beta
+beta-renamed
+inserted
`
	files, err := ParseFiles(diff)
	require.NoError(t, err)
	require.Len(t, files, 1)

	out, err := Apply(original, files[0])
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta-renamed\ninserted\ngamma\ndelta\n", out)
}

func TestApply_AppendsAtEndOfFile(t *testing.T) {
	original := "one\ntwo\n"
	diff := `--- a/f.txt
+++ b/f.txt
@@ -2,1 +2,2 @@
 two
+three
`
	files, err := ParseFiles(diff)
	require.NoError(t, err)

	out, err := Apply(original, files[0])
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", out)
}

func TestApply_RejectsDeletionHunk(t *testing.T) {
	_, err := Apply("x", FileChange{OldPath: "f.txt", NewPath: "/dev/null", IsDeleted: true})
	assert.Error(t, err)
}

func TestApply_ErrorsWhenHunkStartsPastEndOfOriginal(t *testing.T) {
	files := []FileChange{{
		OldPath: "f.txt",
		NewPath: "f.txt",
		Hunks: []Hunk{{
			OldStart: 50,
			OldLines: 1,
			NewStart: 50,
			NewLines: 1,
			Body:     []string{"-x", "+y"},
		}},
	}}
	_, err := Apply("only one line", files[0])
	assert.Error(t, err)
}
