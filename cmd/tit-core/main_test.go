package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ti-toolbox/tit-core/montage"
)

type fakeStore struct {
	data montage.NetMontages
}

func (s fakeStore) EnsureMontageFile() error { return nil }
func (s fakeStore) Load(net string) (montage.NetMontages, error) {
	return s.data, nil
}
func (s fakeStore) Upsert(net, name string, pairs [][2]string, mode montage.Mode) error { return nil }
func (s fakeStore) ListNames(net string, mode montage.Mode) ([]string, error)           { return nil, nil }

func TestLoadMontages_FlattensBothBuckets(t *testing.T) {
	store := fakeStore{data: montage.NetMontages{
		Unipolar:   map[string][][2]string{"motor_strip": {{"F3", "F4"}}},
		Multipolar: map[string][][2]string{"mti_pair": {{"F3", "F4"}, {"C3", "C4"}}},
	}}

	montages, err := loadMontages(store, "EEG10-10_UI_Jurak_2007.csv")
	require.NoError(t, err)
	require.Len(t, montages, 2)

	names := map[string]montage.Montage{}
	for _, m := range montages {
		names[m.Name] = m
	}
	require.Contains(t, names, "motor_strip")
	require.Contains(t, names, "mti_pair")
	assert.Len(t, names["motor_strip"].Pairs, 1)
	assert.Len(t, names["mti_pair"].Pairs, 2)
	assert.Equal(t, "EEG10-10_UI_Jurak_2007.csv", names["motor_strip"].EEGNet)
}

func TestMontageFrom_BuildsPairsFromLabelTuples(t *testing.T) {
	m := montageFrom("demo", "cap.csv", [][2]string{{"F3", "F4"}, {"C3", "C4"}})
	assert.Equal(t, "demo", m.Name)
	assert.Equal(t, "cap.csv", m.EEGNet)
	require.Len(t, m.Pairs, 2)
	assert.Equal(t, montage.Pair{Label1: "F3", Label2: "F4"}, m.Pairs[0])
}
