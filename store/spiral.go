package store

// SpiralColumns returns every (cx,cz) column within Chebyshev distance
// radius of (centerX,centerZ), ordered by an outward ring spiral:
// the center first, then each successive ring (distance 1, 2, ...)
// in turn. Within a ring, columns are visited by walking its four
// edges. This ordering is what the reliable pipeline uses to prioritize
// nearby chunks first when populating a client's view.
func SpiralColumns(centerX, centerZ int32, radius int32) [][2]int32 {
	out := make([][2]int32, 0, (2*radius+1)*(2*radius+1))
	out = append(out, [2]int32{centerX, centerZ})

	for ring := int32(1); ring <= radius; ring++ {
		x, z := centerX+ring, centerZ-ring
		// Walk the four edges of the ring clockwise starting at the
		// top-right corner (centerX+ring, centerZ-ring).
		for ; z <= centerZ+ring; z++ { // down the right edge
			out = append(out, [2]int32{x, z})
		}
		z--
		x--
		for ; x >= centerX-ring; x-- { // left along the bottom edge
			out = append(out, [2]int32{x, z})
		}
		x++
		z--
		for ; z >= centerZ-ring; z-- { // up the left edge
			out = append(out, [2]int32{x, z})
		}
		z++
		x++
		for ; x < centerX+ring; x++ { // right along the top edge
			out = append(out, [2]int32{x, z})
		}
	}
	return out
}
