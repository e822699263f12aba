package item

import (
	"encoding/json"
	"testing"
	"time"
)

func TestItem_UnmarshalJSON(t *testing.T) {
	data := []byte(`{"by":"dhouston","descendants":71,"id":8863,"kids":[8952,9224,8917],
		"score":111,"time":1175714200,"title":"My YC app: Dropbox","type":"story",
		"url":"http://www.getdropbox.com/u/2/screencast.html"}`)

	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if it.ID != 8863 {
		t.Errorf("ID = %d, want 8863", it.ID)
	}
	if it.Type != KindStory {
		t.Errorf("Type = %q, want story", it.Type)
	}
	if !it.Time.Equal(time.Unix(1175714200, 0)) {
		t.Errorf("Time = %v, want unix 1175714200", it.Time)
	}
	if len(it.Kids) != 3 || it.Kids[0] != 8952 || it.Kids[2] != 8917 {
		t.Errorf("Kids = %v, want [8952 9224 8917]", it.Kids)
	}
	if it.IsTombstone() {
		t.Error("story without flags should not be a tombstone")
	}
	if !it.HasTitle() || !it.HasChildren() {
		t.Error("story should have a title and children")
	}
}

func TestItem_Tombstone(t *testing.T) {
	tests := []struct {
		name string
		json string
		want bool
	}{
		{"absent flags", `{"id":1}`, false},
		{"deleted", `{"id":1,"deleted":true}`, true},
		{"dead", `{"id":1,"dead":true}`, true},
		{"explicit false", `{"id":1,"deleted":false,"dead":false}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var it Item
			if err := json.Unmarshal([]byte(tt.json), &it); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got := it.IsTombstone(); got != tt.want {
				t.Errorf("IsTombstone() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestItem_MarshalJSON_KeepsUnixTime(t *testing.T) {
	it := Item{ID: 42, Type: KindComment, Time: time.Unix(1700000000, 0)}

	data, err := json.Marshal(it)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if raw["time"] != float64(1700000000) {
		t.Errorf("time = %v, want 1700000000", raw["time"])
	}
}

func TestItem_DiscussionURL(t *testing.T) {
	it := Item{ID: 123}
	if got := it.DiscussionURL(); got != "https://news.ycombinator.com/item?id=123" {
		t.Errorf("DiscussionURL() = %q", got)
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in       string
		want     Category
		endpoint string
		wantErr  bool
	}{
		{"top", CategoryTop, "topstories", false},
		{"NEW", CategoryNew, "newstories", false},
		{" best ", CategoryBest, "beststories", false},
		{"job", CategoryJob, "jobstories", false},
		{"hot", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCategory(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCategory(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !tt.wantErr && got.Endpoint() != tt.endpoint {
				t.Errorf("Endpoint() = %q, want %q", got.Endpoint(), tt.endpoint)
			}
		})
	}
}

func TestFlatten_Collapsed(t *testing.T) {
	forest := []TreeNode{
		{Item: Item{ID: 1}, Children: []TreeNode{
			{Item: Item{ID: 2}, Depth: 1, Children: []TreeNode{{Item: Item{ID: 3}, Depth: 2}}},
		}},
		{Item: Item{ID: 4}},
	}

	all := Flatten(forest, nil)
	if len(all) != 4 {
		t.Fatalf("Flatten() = %d nodes, want 4", len(all))
	}
	for i, want := range []int{1, 2, 3, 4} {
		if all[i].ID() != want {
			t.Errorf("Flatten()[%d] = %d, want %d", i, all[i].ID(), want)
		}
	}

	visible := Flatten(forest, map[int]bool{2: true})
	if len(visible) != 3 {
		t.Errorf("Flatten(collapsed 2) = %d nodes, want 3", len(visible))
	}

	if Count(forest) != 4 {
		t.Errorf("Count() = %d, want 4", Count(forest))
	}
	if MaxDepth(forest) != 3 {
		t.Errorf("MaxDepth() = %d, want 3", MaxDepth(forest))
	}
}
