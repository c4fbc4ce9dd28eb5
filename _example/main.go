package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hupe1980/annogo"
	"github.com/hupe1980/annogo/backend"
	"github.com/hupe1980/annogo/model"
	"github.com/hupe1980/annogo/spatial"
)

func main() {
	schema := model.Schema{
		Rank: 3,
		Properties: []model.PropertySpec{
			{Identifier: "confidence", Type: model.PropertyType{Kind: model.Float32, Lanes: 1}},
		},
		Relationships: []string{"segments"},
	}

	grid, err := spatial.NewGrid(3, []float64{64, 64, 64}, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	if err != nil {
		log.Fatal(err)
	}
	grids := []*spatial.Grid{grid}

	be, err := backend.NewMemory(schema, grids, nil)
	if err != nil {
		log.Fatal(err)
	}

	src, err := annogo.NewMultiscaleSource(schema, grids, be,
		annogo.WithStatusFunc(func(status string) {
			if status != "" {
				fmt.Println("status:", status)
			}
		}),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer src.Close()

	remove := src.OnChanged(func() { fmt.Println("annotations changed") })
	defer remove()

	fmt.Println("--- Create ---")
	ref := src.Add(&model.Point{
		Base: model.Base{
			Properties:      []model.PropertyValue{{0.9}},
			RelatedSegments: [][]model.SegmentID{{42}},
		},
		Point: []float32{10, 20, 30},
	}, true)
	defer ref.Release()

	// The backend assigns the durable id asynchronously.
	for be.Len() == 0 {
		time.Sleep(time.Millisecond)
	}
	fmt.Println("committed as:", ref.ID())

	fmt.Println("--- Download ---")
	payload, err := be.DownloadGeometry(context.Background(), backend.GeometryRequest{
		Scale: 0,
		Cell:  []int64{0, 0, 0},
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := src.ReceiveSpatialChunk(0, []int64{0, 0, 0}, payload); err != nil {
		log.Fatal(err)
	}

	chunk, _ := src.SpatialSources()[0].Get("0_0_0")
	fmt.Println("resident annotations:", chunk.Buffer.Count(model.KindPoint))

	fmt.Println("--- Edit and roll back ---")
	be.FailNextCommit("quota exceeded")
	src.Update(ref, &model.Point{Point: []float32{99, 99, 99}})
	src.Commit(ref)

	time.Sleep(50 * time.Millisecond)
	if v := ref.Value(); v != nil {
		fmt.Println("value after rejected commit:", v.(*model.Point).Point)
	}
}
